package adms

import (
	"strconv"
	"strings"
)

// Plausible face algorithm major versions; anything else is noise.
const (
	minFaceMajor = 1
	maxFaceMajor = 100
)

// Capabilities is the structured form of a terminal's INFO descriptor.
type Capabilities struct {
	Model        string
	Firmware     string
	Face         bool
	Finger       bool
	Palm         bool
	Card         bool
	FaceMajorVer int // 0 when unknown
	Raw          string
}

// ParseDescriptor decodes the comma-separated self-description a terminal
// sends with each poll:
//
//	<model>-Ver<firmware>,<face>,<finger>,<palm>,<face major>,...
//
// It returns false when no descriptor was supplied.
func ParseDescriptor(info string) (Capabilities, bool) {
	info = strings.TrimSpace(info)
	if info == "" {
		return Capabilities{}, false
	}
	parts := strings.Split(info, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	c := Capabilities{Raw: info}
	c.Model, c.Firmware = splitModel(parts[0])
	flag := func(i int) bool { return i < len(parts) && parts[i] == "1" }
	c.Face, c.Finger, c.Palm = flag(1), flag(2), flag(3)
	if len(parts) > 4 {
		if n, err := strconv.Atoi(parts[4]); err == nil && n >= minFaceMajor && n <= maxFaceMajor {
			c.FaceMajorVer = n
		}
	}
	return c, true
}

// DefaultCapabilities is the conservative profile assumed for a terminal
// that never described itself.
func DefaultCapabilities(faceMajor int) Capabilities {
	return Capabilities{Face: true, Finger: true, Card: true, FaceMajorVer: faceMajor}
}

// splitModel separates "<model>-Ver<firmware>"; without the marker the whole
// field is the model.
func splitModel(s string) (model, firmware string) {
	for _, marker := range []string{"-Ver", "-ver"} {
		if i := strings.Index(s, marker); i >= 0 {
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+len(marker):])
		}
	}
	return s, ""
}
