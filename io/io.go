// Package io reads reply lines from mail servers and turns untrusted bytes
// into printable text.
package io

import (
	"bufio"
	"errors"
	"unicode"
	"unicode/utf8"

	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

var (
	ErrLineTooLong    = errors.New("smtp: line too long")
	ErrMissingLineEnd = errors.New("smtp: line not terminated")
)

// ReadLine reads a single reply line of at most max bytes, excluding the line
// ending. Servers in the wild send bare LF, so both CRLF and LF are accepted.
// The returned slice is a copy.
//
// A line exceeding max is discarded up to its end and ErrLineTooLong is
// returned. A connection closed mid-line returns ErrMissingLineEnd wrapping
// the read error.
func ReadLine(reader *bufio.Reader, max int) ([]byte, error) {
	// Fast path, the full line is in the buffer.
	line, err := reader.ReadSlice('\n')
	if err == nil {
		return checkLength(trimLineEnd(line), max)
	}
	if err != bufio.ErrBufferFull {
		return nil, lineError(line, err)
	}

	// Slow path, accumulate chunks. The next ReadSlice overwrites line.
	buf := append([]byte(nil), line...)
	for {
		line, err = reader.ReadSlice('\n')
		if len(buf)+len(line) > max+2 {
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return nil, ErrLineTooLong
		}
		buf = append(buf, line...)
		if err == nil {
			return checkLength(trimLineEnd(buf), max)
		}
		if err != bufio.ErrBufferFull {
			return nil, lineError(buf, err)
		}
	}
}

func checkLength(line []byte, max int) ([]byte, error) {
	if len(line) > max {
		return nil, ErrLineTooLong
	}
	return line, nil
}

func lineError(partial []byte, err error) error {
	if len(partial) == 0 {
		return err
	}
	return errors.Join(ErrMissingLineEnd, err)
}

// trimLineEnd strips LF or CRLF and returns a copy.
func trimLineEnd(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return append([]byte(nil), b[:n]...)
}

// drainLine discards the rest of the current line.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err != bufio.ErrBufferFull {
			return
		}
	}
}

// isASCII checks if b only holds printable US-ASCII, tab included.
func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 126 || c < 32 && c != '\t' {
			return false
		}
	}
	return true
}

// Text decodes b as UTF-8 into printable text. Invalid byte sequences are
// replaced with U+FFFD and control characters other than tab are removed.
// Lossy is set when the result differs from the input.
func Text(b []byte) (s string, lossy bool) {
	if isASCII(b) {
		return string(b), false
	}
	t := transform.Chain(xunicode.UTF8.NewDecoder(), runes.Remove(runes.Predicate(isControl)))
	out, _, err := transform.Bytes(t, b)
	if err != nil {
		// Not reached for the transformers above, fall back to the stdlib.
		return fallbackText(b), true
	}
	return string(out), !utf8.Valid(b) || len(out) != len(b)
}

// String is Text for strings, dropping the lossy flag.
func String(s string) string {
	r, _ := Text([]byte(s))
	return r
}

func isControl(r rune) bool {
	return r != '\t' && unicode.IsControl(r)
}

func fallbackText(b []byte) string {
	r := make([]rune, 0, len(b))
	for len(b) > 0 {
		c, size := utf8.DecodeRune(b)
		b = b[size:]
		if !isControl(c) {
			r = append(r, c)
		}
	}
	return string(r)
}
