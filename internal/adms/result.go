package adms

import (
	"strconv"
	"strings"
)

// Result is one command outcome reported by a terminal.
type Result struct {
	ID     uint
	Return int
	Cmd    string
}

// ParseResults decodes a result body. Pairs are separated by '&' or line
// breaks and each ID key starts a new result. Groups with a malformed ID or
// without a Return value are dropped.
func ParseResults(body string) []Result {
	toks := strings.FieldsFunc(body, func(r rune) bool {
		return r == '&' || r == '\n' || r == '\r'
	})

	var (
		out     []Result
		cur     Result
		open    bool
		haveRet bool
	)
	flush := func() {
		if open && haveRet {
			out = append(out, cur)
		}
		cur, open, haveRet = Result{}, false, false
	}

	for _, tok := range toks {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		switch k {
		case "id":
			flush()
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil || id == 0 {
				continue
			}
			cur.ID, open = uint(id), true
		case "return":
			if !open {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				continue
			}
			cur.Return, haveRet = n, true
		case "cmd":
			if open {
				cur.Cmd = v
			}
		}
	}
	flush()
	return out
}
