package adms

import (
	"strconv"
	"strings"
)

// ReadyMessage answers a handshake that carries no serial number.
const ReadyMessage = "ADMS server ready"

// TransFlag lists the record families terminals are asked to push.
const TransFlag = "TransData AttLog OpLog AttPhoto EnrollUser ChgUser EnrollFP ChgFP FACE UserPic BIODATA"

// HandshakeConfig carries the protocol parameters returned on handshake.
type HandshakeConfig struct {
	Delay         int
	ErrorDelay    int
	TransTimes    string
	TransInterval int
	TimeZone      int
	Realtime      bool
}

// HandshakeResponse renders the option block for serial sn. The layout is a
// wire contract: line order and spelling must not change.
func HandshakeResponse(sn string, c HandshakeConfig) string {
	realtime := "0"
	if c.Realtime {
		realtime = "1"
	}
	lines := []string{
		"GET OPTION FROM: " + sn,
		"ATTLOGStamp=None",
		"OPERLOGStamp=9999",
		"ATTPHOTOStamp=None",
		"ErrorDelay=" + strconv.Itoa(c.ErrorDelay),
		"Delay=" + strconv.Itoa(c.Delay),
		"TransTimes=" + c.TransTimes,
		"TransInterval=" + strconv.Itoa(c.TransInterval),
		"TransFlag=" + TransFlag,
		"TimeZone=" + strconv.Itoa(c.TimeZone),
		"Realtime=" + realtime,
		"Encrypt=None",
	}
	return strings.Join(lines, "\n")
}
