package adms

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tbourn/go-adms-server/internal/domain"
)

// Identity is the subject data carried by a USERINFO update.
type Identity struct {
	PIN       string
	Name      string
	Privilege int
	Password  string
	Card      string
}

// UserInfoCommand establishes a subject on a terminal. Group 1 and the
// default timezone mask are always sent so the terminal accepts the user
// for verification right away.
func UserInfoCommand(u Identity) string {
	return "DATA UPDATE USERINFO " + strings.Join([]string{
		"PIN=" + u.PIN,
		"Name=" + u.Name,
		"Pri=" + strconv.Itoa(u.Privilege),
		"Passwd=" + u.Password,
		"Card=" + u.Card,
		"Grp=1",
		"TZ=0000000100000000",
		"Verify=0",
	}, "\t")
}

// DeleteFaceCommand removes a subject's stored face data of the given
// template type.
func DeleteFaceCommand(pin string, typ int) string {
	return fmt.Sprintf("DATA DELETE BIODATA Pin=%s\tType=%d", pin, typ)
}

// FaceDataCommand writes a face template stamped with the given algorithm
// version.
func FaceDataCommand(t domain.BiometricTemplate, major, minor int) string {
	return "DATA UPDATE BIODATA " + strings.Join([]string{
		"Pin=" + t.EmployeeCode,
		"No=" + strconv.Itoa(t.Slot),
		"Index=" + strconv.Itoa(t.Index),
		"Valid=" + boolDigit(t.Valid),
		"Duress=" + boolDigit(t.Duress),
		"Type=" + strconv.Itoa(t.Type),
		"MajorVer=" + strconv.Itoa(major),
		"MinorVer=" + strconv.Itoa(minor),
		"Format=" + strconv.Itoa(t.Format),
		"Tmp=" + t.Payload,
	}, "\t")
}

// FingerDataCommand writes a fingerprint template.
func FingerDataCommand(t domain.BiometricTemplate) string {
	return "DATA UPDATE FINGERTMP " + strings.Join([]string{
		"PIN=" + t.EmployeeCode,
		"FID=" + strconv.Itoa(t.Slot),
		"Size=" + strconv.Itoa(len(t.Payload)),
		"Valid=" + boolDigit(t.Valid),
		"TMP=" + t.Payload,
	}, "\t")
}

// PollReply renders a command for the poll response.
func PollReply(id uint, payload string) string {
	return fmt.Sprintf("C:%d:%s", id, payload)
}

// Classify derives the default priority class and kind of a command from
// its verb.
func Classify(cmd string) (priority int, kind string) {
	v := strings.ToUpper(strings.TrimSpace(cmd))
	switch {
	case strings.HasPrefix(v, "DATA DELETE"), strings.HasPrefix(v, "CLEAR"):
		return domain.PriorityDelete, domain.KindDelete
	case strings.HasPrefix(v, "DATA UPDATE USERINFO"), strings.HasPrefix(v, "ENROLL"):
		return domain.PriorityIdentity, domain.KindIdentity
	case strings.HasPrefix(v, "DATA QUERY"), strings.HasPrefix(v, "QUERY"), strings.HasPrefix(v, "CHECK"):
		return domain.PriorityQuery, domain.KindOther
	case strings.HasPrefix(v, "DATA UPDATE"):
		return domain.PriorityNormal, domain.KindData
	}
	return domain.PriorityNormal, domain.KindOther
}

// SubjectPIN extracts the subject identifier from a DATA command, if any.
func SubjectPIN(cmd string) string {
	return Tokenize(cmd).Get("PIN")
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
