// Package archive turns raw chat-export fragments into normalized conversations.
//
// Exports escape every byte of a multi-byte UTF-8 character as its own
// \u00XX token ("č" becomes Ä\u008d). Decode reverses that, Combine merges
// the fragments of one conversation and Sanitize produces the normalized text
// used for search.
package archive

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

const (
	escapePrefix = `\u00`
	escapeLen    = len(`\u00XX`)
)

// DecodeError reports an escape sequence that cannot be interpreted.
type DecodeError struct {
	Fragment string
	Offset   int
	Reason   string
}

func (e *DecodeError) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("decode %s: offset %d: %s", e.Fragment, e.Offset, e.Reason)
	}
	return fmt.Sprintf("decode: offset %d: %s", e.Offset, e.Reason)
}

// Decode reverses the per-byte escaping of the export format.
//
// Consecutive \u00XX tokens with XX >= 0x80 are collected as raw bytes and
// emitted as UTF-8. Tokens below 0x80 are ordinary JSON escapes and are copied
// verbatim, as is any byte that does not start a valid UTF-8 sequence (a
// correctly escaped Latin-1 character). Input without escapes is returned as is.
func Decode(raw []byte) ([]byte, error) {
	if !bytes.Contains(raw, []byte(escapePrefix)) {
		return raw, nil
	}

	out := make([]byte, 0, len(raw))
	var run []byte
	runStart := 0

	flush := func() {
		for j := 0; j < len(run); {
			r, size := utf8.DecodeRune(run[j:])
			if r == utf8.RuneError && size <= 1 {
				tok := runStart + j*escapeLen
				out = append(out, raw[tok:tok+escapeLen]...)
				j++
				continue
			}
			out = append(out, run[j:j+size]...)
			j += size
		}
		run = run[:0]
	}

	i := 0
	for i < len(raw) {
		c := raw[i]
		if c != '\\' {
			flush()
			out = append(out, c)
			i++
			continue
		}
		if i+1 < len(raw) && raw[i+1] == '\\' {
			flush()
			out = append(out, '\\', '\\')
			i += 2
			continue
		}
		if !bytes.HasPrefix(raw[i:], []byte(escapePrefix)) {
			flush()
			out = append(out, c)
			i++
			continue
		}
		if i+escapeLen > len(raw) {
			return nil, &DecodeError{Offset: i, Reason: "truncated escape sequence"}
		}
		b, ok := hexByte(raw[i+4], raw[i+5])
		if !ok {
			return nil, &DecodeError{Offset: i, Reason: fmt.Sprintf("invalid escape %q", raw[i:i+escapeLen])}
		}
		if b < utf8.RuneSelf {
			flush()
			out = append(out, raw[i:i+escapeLen]...)
			i += escapeLen
			continue
		}
		if len(run) == 0 {
			runStart = i
		}
		run = append(run, b)
		i += escapeLen
	}
	flush()
	return out, nil
}

func hexByte(hi, lo byte) (byte, bool) {
	h, ok1 := hexNibble(hi)
	l, ok2 := hexNibble(lo)
	return h<<4 | l, ok1 && ok2
}

func hexNibble(c byte) (byte, bool) {
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
