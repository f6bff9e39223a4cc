package adms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-adms-server/internal/domain"
)

// Upload table discriminators.
const (
	TableAttLog    = "ATTLOG"
	TableOperLog   = "OPERLOG"
	TableErrorLog  = "ERRORLOG"
	TableBioData   = "BIODATA"
	TableFingerTmp = "FINGERTMP"
	TableFace      = "FACE"
	TableUserVF    = "USERVF"
	TableUserInfo  = "USERINFO"
)

// TimeLayout is the terminal timestamp format.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one decoded upload line. The concrete type is one of
// Punch, OperationLog, Template, UserInfo or Unknown.
type Record interface {
	isRecord()
}

// Punch is an attendance event from an ATTLOG upload.
type Punch struct {
	EmployeeCode string
	Time         time.Time
	State        int
	VerifyMode   int
	WorkCode     string
	Raw          string
}

// OperationLog is an audit line from an OPERLOG or ERRORLOG upload.
type OperationLog struct {
	Table  string
	Tag    string
	Code   string
	Actor  string
	Time   time.Time
	Detail string
	Raw    string
}

// Template is an accepted biometric template line.
type Template struct {
	EmployeeCode string
	Type         int
	Slot         int
	Index        int
	Valid        bool
	Duress       bool
	Payload      string // normalized
	Size         int
	MajorVer     int
	MinorVer     int
	Format       int
	Family       string
	Raw          string
}

// UserInfo is an identity line (name, privilege, credentials) without a
// biometric payload.
type UserInfo struct {
	EmployeeCode string
	Name         string
	Privilege    int
	Card         string
	Password     string
	Raw          string
}

// Unknown marks an upload whose table is not understood.
type Unknown struct {
	Table string
	Lines int
}

func (Punch) isRecord()        {}
func (OperationLog) isRecord() {}
func (Template) isRecord()     {}
func (UserInfo) isRecord()     {}
func (Unknown) isRecord()      {}

// ParseError describes a line that was skipped.
type ParseError struct {
	Line   int
	Table  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.Table, e.Line, e.Reason)
}

// Parser decodes upload bodies. The zero value parses timestamps as UTC and
// accepts template payloads of any non-placeholder length.
type Parser struct {
	Location          *time.Location
	MinTemplateLength int
}

var (
	punchFallbackRE = regexp.MustCompile(`^\s*(\S+)\s+(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2})\s+(\d+)\s+(\d+)(?:\s+(\d+))?`)
	placeholderRE   = regexp.MustCompile(`^[A0=]+$`)
	payloadCleaner  = strings.NewReplacer("\r", "", "\n", "")
)

// NormalizePayload returns the form of a template payload used for storage
// and change detection.
func NormalizePayload(s string) string {
	return strings.TrimSpace(payloadCleaner.Replace(s))
}

// PlausiblePayload reports whether a normalized payload looks like a real
// template rather than an empty or placeholder value.
func PlausiblePayload(p string, minLen int) bool {
	if p == "" || len(p) < minLen {
		return false
	}
	return !placeholderRE.MatchString(p)
}

// Parse decodes every non-empty line of body according to table. Lines that
// cannot be decoded are reported as *ParseError and skipped; the remaining
// records are still returned.
func (p Parser) Parse(table, body string) ([]Record, []*ParseError) {
	table = strings.ToUpper(strings.TrimSpace(table))
	var (
		recs []Record
		errs []*ParseError
	)
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	if !knownTable(table) {
		n := 0
		for _, ln := range lines {
			if strings.TrimSpace(ln) != "" {
				n++
			}
		}
		if n > 0 {
			recs = append(recs, Unknown{Table: table, Lines: n})
		}
		return recs, nil
	}

	for i, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		rec, reason := p.parseLine(table, ln)
		if reason != "" {
			errs = append(errs, &ParseError{Line: i + 1, Table: table, Reason: reason})
			continue
		}
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	return recs, errs
}

func knownTable(t string) bool {
	switch t {
	case TableAttLog, TableOperLog, TableErrorLog, TableBioData, TableFingerTmp, TableFace, TableUserVF, TableUserInfo:
		return true
	}
	return false
}

// parseLine returns either a record, nothing (dropped silently) or a reason.
func (p Parser) parseLine(table, line string) (Record, string) {
	if table == TableAttLog {
		return p.parsePunch(line)
	}
	family := lineFamily(leadingTag(line), table)
	switch family {
	case TableOperLog, TableErrorLog:
		return p.parseOperation(family, line)
	case TableUserInfo:
		return parseUser(line)
	default:
		return p.parseBiometric(family, line)
	}
}

// lineFamily maps a line's leading tag onto a record family. Terminals embed
// USER and template lines in OPERLOG bodies, so the tag wins over the table.
func lineFamily(tag, table string) string {
	switch tag {
	case "USER", "USERINFO":
		return TableUserInfo
	case "FP", "FINGERTMP":
		return TableFingerTmp
	case "FACE":
		return TableFace
	case "BIODATA":
		return TableBioData
	case "USERVF":
		return TableUserVF
	case "OPLOG":
		return TableOperLog
	}
	return table
}

func (p Parser) loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p Parser) parsePunch(line string) (Record, string) {
	raw := strings.TrimRight(line, "\r\n")
	parts := strings.Split(raw, "\t")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) <= 1 {
		m := punchFallbackRE.FindStringSubmatch(raw)
		if m == nil {
			return nil, "unrecognized attendance line"
		}
		parts = []string{m[1], strings.Join(strings.Fields(m[2]), " "), m[3], m[4], m[5]}
	}
	if len(parts) < 2 || parts[0] == "" {
		return nil, "missing employee code"
	}
	at, err := time.ParseInLocation(TimeLayout, parts[1], p.loc())
	if err != nil {
		return nil, "bad punch time " + strconv.Quote(parts[1])
	}
	pn := Punch{EmployeeCode: parts[0], Time: at, Raw: raw}
	if len(parts) > 2 {
		pn.State = atoi(parts[2])
	}
	if len(parts) > 3 {
		pn.VerifyMode = atoi(parts[3])
	}
	if len(parts) > 4 {
		pn.WorkCode = parts[4]
	}
	return pn, ""
}

func (p Parser) parseOperation(family, line string) (Record, string) {
	raw := strings.TrimRight(line, "\r\n")
	f := strings.Fields(raw)
	if len(f) == 0 {
		return nil, "short operation log"
	}
	// An optional leading tag word precedes the numeric code.
	if _, err := strconv.Atoi(f[0]); err == nil {
		f = append([]string{family}, f...)
	}
	if len(f) < 5 {
		return nil, "short operation log"
	}
	at, err := time.ParseInLocation(TimeLayout, f[3]+" "+f[4], p.loc())
	if err != nil {
		return nil, "bad log time"
	}
	return OperationLog{
		Table:  family,
		Tag:    f[0],
		Code:   f[1],
		Actor:  f[2],
		Time:   at,
		Detail: strings.Join(f[5:], " "),
		Raw:    raw,
	}, ""
}

func parseUser(line string) (Record, string) {
	f := Tokenize(line)
	pin := f.Get("PIN")
	if pin == "" {
		return nil, "missing PIN"
	}
	return UserInfo{
		EmployeeCode: pin,
		Name:         f.Get("Name"),
		Privilege:    f.Int(0, "Pri", "Privilege"),
		Card:         f.Get("Card"),
		Password:     f.Get("Passwd", "Password"),
		Raw:          strings.TrimRight(line, "\r\n"),
	}, ""
}

func (p Parser) parseBiometric(family, line string) (Record, string) {
	f := Tokenize(line)
	pin := f.Get("PIN")
	if pin == "" {
		return nil, "missing PIN"
	}
	payload := NormalizePayload(f.Get("Tmp", "Template"))
	if payload == "" {
		// Verification and bare identity lines carry no template.
		if family == TableUserVF || !f.Has("Tmp", "Template") {
			return nil, ""
		}
		return nil, "empty template payload"
	}
	if !PlausiblePayload(payload, p.MinTemplateLength) {
		return nil, "implausible template payload"
	}

	typ := f.Int(-1, "Type")
	if typ < 0 {
		switch family {
		case TableFingerTmp:
			typ = domain.TemplateFinger
		case TableFace:
			typ = domain.TemplateFaceLegacy
		default:
			typ = domain.TemplateGeneric
		}
	}
	return Template{
		EmployeeCode: pin,
		Type:         typ,
		Slot:         f.Int(0, "No", "FID", "Index"),
		Index:        f.Int(0, "Index"),
		Valid:        f.Get("Valid") != "0",
		Duress:       f.Get("Duress") == "1",
		Payload:      payload,
		Size:         f.Int(len(payload), "Size"),
		MajorVer:     f.Int(0, "MajorVer"),
		MinorVer:     f.Int(0, "MinorVer"),
		Format:       f.Int(0, "Format"),
		Family:       family,
		Raw:          strings.TrimRight(line, "\r\n"),
	}, ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
