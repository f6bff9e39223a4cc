// Package adms implements the text wire formats spoken by ADMS terminals:
// the key/value tokenizer, the upload record families, the capability
// descriptor, the handshake block, outbound command payloads and result
// reports. Everything here is pure; persistence lives in the services layer.
package adms

import (
	"strconv"
	"strings"
)

// Fields is a case-insensitive view over the Key=Value tokens of one line.
type Fields map[string]string

// Tokenize splits a wire line into key/value pairs.
//
// Tokens are separated by tabs when the line contains any tab, otherwise by
// runs of whitespace. A key may carry a leading family prefix ("FP PIN=1");
// everything up to the last space before '=' is dropped. Tokens without '='
// (such as a bare family tag) are ignored. The first occurrence of a key wins.
func Tokenize(line string) Fields {
	line = strings.TrimRight(line, "\r\n")
	var toks []string
	if strings.Contains(line, "\t") {
		toks = strings.Split(line, "\t")
	} else {
		toks = strings.Fields(line)
	}
	out := make(Fields, len(toks))
	for _, tok := range toks {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if i := strings.LastIndexByte(k, ' '); i >= 0 {
			k = k[i+1:]
		}
		if k == "" {
			continue
		}
		k = strings.ToLower(k)
		if _, seen := out[k]; !seen {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

// Get returns the value of the first key present.
func (f Fields) Get(keys ...string) string {
	for _, k := range keys {
		if v, ok := f[strings.ToLower(k)]; ok {
			return v
		}
	}
	return ""
}

// Has reports whether any of the keys is present.
func (f Fields) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := f[strings.ToLower(k)]; ok {
			return true
		}
	}
	return false
}

// Int returns the first key present parsed as an integer, or def.
func (f Fields) Int(def int, keys ...string) int {
	for _, k := range keys {
		v, ok := f[strings.ToLower(k)]
		if !ok || v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// leadingTag returns the upper-cased first word of a line.
func leadingTag(line string) string {
	line = strings.TrimLeft(line, " \t")
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		line = line[:i]
	}
	return strings.ToUpper(line)
}
