package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeviceProfile is an operator-provided seed for one terminal.
type DeviceProfile struct {
	Serial    string `yaml:"serial"`
	Alias     string `yaml:"alias"`
	Direction string `yaml:"direction"` // in|out|both
}

type devicesFile struct {
	Devices []DeviceProfile `yaml:"devices"`
}

// LoadDeviceProfiles reads a YAML file of the form
//
//	devices:
//	  - serial: CKJX2014
//	    alias: Lobby
//	    direction: in
//
// An empty path yields no profiles. Serial numbers must be unique and the
// direction, when given, must be one of in, out or both.
func LoadDeviceProfiles(path string) ([]DeviceProfile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f devicesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(f.Devices))
	out := make([]DeviceProfile, 0, len(f.Devices))
	for i, d := range f.Devices {
		d.Serial = strings.TrimSpace(d.Serial)
		d.Alias = strings.TrimSpace(d.Alias)
		d.Direction = strings.ToLower(strings.TrimSpace(d.Direction))
		if d.Serial == "" {
			return nil, fmt.Errorf("device #%d: serial must not be empty", i+1)
		}
		if _, dup := seen[d.Serial]; dup {
			return nil, fmt.Errorf("device %s: duplicate serial", d.Serial)
		}
		seen[d.Serial] = struct{}{}
		switch d.Direction {
		case "":
			d.Direction = "both"
		case "in", "out", "both":
		default:
			return nil, fmt.Errorf("device %s: direction must be in, out or both", d.Serial)
		}
		out = append(out, d)
	}
	return out, nil
}
