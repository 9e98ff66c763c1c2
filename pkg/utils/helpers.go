package utils

import (
	"errors"
	"path/filepath"
	"strings"
)

// maxIdentLen is the Postgres identifier limit.
const maxIdentLen = 63

var ErrInvalidIdent = errors.New("invalid identifier")

// NormalizeHeader lower-cases a CSV column header and removes spaces and parentheses,
// so "Temperature (C)" becomes "temperaturec".
func NormalizeHeader(h string) string {
	h = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '(', ')', '\ufeff':
			return -1
		}
		return r
	}, strings.ToLower(h))
	return strings.TrimSpace(h)
}

// SQLIdent turns a pond name into a lower-case SQL identifier made of [a-z0-9_].
// Runs of other characters collapse into one underscore; a leading digit gets a "pond_" prefix.
func SQLIdent(name string) (string, error) {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	ident := strings.TrimRight(b.String(), "_")
	if ident == "" {
		return "", ErrInvalidIdent
	}
	if ident[0] >= '0' && ident[0] <= '9' {
		ident = "pond_" + ident
	}
	if len(ident) > maxIdentLen {
		ident = ident[:maxIdentLen]
	}
	return ident, nil
}

// FileStem returns the base name of path without its extension.
func FileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
