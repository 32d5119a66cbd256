// File: httpd/uri.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package httpd

import (
	"strings"
)

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// DecodeInPlace percent-decodes b into itself and returns the decoded
// length. With form set, '+' becomes a space as in
// application/x-www-form-urlencoded data; paths must not use form mode.
func DecodeInPlace(b []byte, form bool) (int, error) {
	w := 0
	for r := 0; r < len(b); r++ {
		c := b[r]
		switch {
		case c == '%':
			if r+2 >= len(b) {
				return 0, malformed("truncated percent escape")
			}
			hi, ok1 := unhex(b[r+1])
			lo, ok2 := unhex(b[r+2])
			if !ok1 || !ok2 {
				return 0, malformed("bad percent escape")
			}
			c = hi<<4 | lo
			r += 2
		case c == '+' && form:
			c = ' '
		}
		b[w] = c
		w++
	}
	return w, nil
}

// Decode is DecodeInPlace on a copy of s.
func Decode(s string, form bool) (string, error) {
	b := []byte(s)
	n, err := DecodeInPlace(b, form)
	if err != nil {
		return "", err
	}
	return string(b[:n]), nil
}

// NormalizePath turns a decoded URI path into a clean absolute path: empty,
// "." and ".." segments are dropped and backslashes count as separators. A
// trailing separator is kept. The result never contains "..".
func NormalizePath(p string) string {
	segs := strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
	var b strings.Builder
	b.Grow(len(p) + 1)
	for _, s := range segs {
		if s == "." || s == ".." {
			continue
		}
		b.WriteByte('/')
		b.WriteString(s)
	}
	if b.Len() == 0 {
		return "/"
	}
	if last := p[len(p)-1]; last == '/' || last == '\\' {
		b.WriteByte('/')
	}
	return b.String()
}

// Var finds name in an encoded "a=1&b=2" string and returns its
// form-decoded value.
func Var(encoded, name string) (string, bool) {
	for encoded != "" {
		var pair string
		pair, encoded, _ = strings.Cut(encoded, "&")
		k, v, _ := strings.Cut(pair, "=")
		if dk, err := Decode(k, true); err != nil || dk != name {
			continue
		}
		dv, err := Decode(v, true)
		if err != nil {
			return "", false
		}
		return dv, true
	}
	return "", false
}
