// Package charset bridges the hub-declared byte encoding and UTF-8,
// and implements the two escape flavours the wire formats use.
package charset

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrUnknownEncoding names a label this package doesn't recognise. New
// does not return it: an unknown label falls back to UTF-8 passthrough
// rather than failing the connection.
var ErrUnknownEncoding = errors.New("charset: unknown encoding")

// ErrEscape is returned for a malformed backslash escape sequence.
var ErrEscape = errors.New("charset: invalid escape sequence")

// Bridge converts between one hub's declared byte encoding and UTF-8.
// The zero value is a UTF-8 passthrough bridge.
type Bridge struct {
	label string
	enc   encoding.Encoding
}

// New resolves label (e.g. "windows-1251", "cp1252", "utf-8") to a
// Bridge. An empty label, or one this package doesn't know, resolves
// to UTF-8 passthrough rather than an error, since a hub with a typo'd
// charset should still be usable.
func New(label string) Bridge {
	label = strings.TrimSpace(label)
	if label == "" {
		return Bridge{label: "utf-8"}
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return Bridge{label: "utf-8"}
	}
	name, _ := htmlindex.Name(enc)
	if name == "utf-8" || name == "" {
		return Bridge{label: "utf-8"}
	}
	return Bridge{label: name, enc: enc}
}

// Label reports the resolved encoding name.
func (b Bridge) Label() string {
	if b.label == "" {
		return "utf-8"
	}
	return b.label
}

// Encode converts a UTF-8 string to the hub's declared byte encoding.
func (b Bridge) Encode(utf8 string) ([]byte, error) {
	if b.enc == nil {
		return []byte(utf8), nil
	}
	out, err := b.enc.NewEncoder().Bytes([]byte(utf8))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Decode converts bytes in the hub's declared encoding to UTF-8.
func (b Bridge) Decode(raw []byte) (string, error) {
	if b.enc == nil {
		return string(raw), nil
	}
	out, err := b.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// EscapeLegacy applies the legacy wire's raw-byte escapes: '$' and '|'
// become "&#36;" and "&#124;", since either byte inside a value would
// otherwise be read back as a frame or field delimiter.
func EscapeLegacy(s string) string {
	s = strings.ReplaceAll(s, "$", "&#36;")
	s = strings.ReplaceAll(s, "|", "&#124;")
	return s
}

// UnescapeLegacy reverses EscapeLegacy.
func UnescapeLegacy(s string) string {
	s = strings.ReplaceAll(s, "&#36;", "$")
	s = strings.ReplaceAll(s, "&#124;", "|")
	return s
}

// EscapeModern applies the modern wire's whitespace/backslash escapes:
// space -> \s, newline -> \n, backslash -> \\.
func EscapeModern(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ' ':
			b.WriteString(`\s`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeModern reverses EscapeModern, reporting ErrEscape on any
// backslash not followed by 's', 'n', or '\\'.
func UnescapeModern(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(s) {
			return "", ErrEscape
		}
		switch s[i+1] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", ErrEscape
		}
		i += 2
	}
	return b.String(), nil
}

// SplitModernFields splits a modern-protocol parameter string on
// unescaped spaces — a bare split on ' ' would also break inside an
// escaped \s, so this walks the string respecting backslash escapes.
func SplitModernFields(s string) []string {
	var fields []string
	var cur bytes.Buffer
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == ' ' {
			fields = append(fields, cur.String())
			cur.Reset()
			i++
			continue
		}
		cur.WriteByte(c)
		i++
	}
	fields = append(fields, cur.String())
	return fields
}
