package asm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteHex writes an object image: one word per line as four hex digits.
func WriteHex(w io.Writer, words []uint16) error {
	bw := bufio.NewWriter(w)
	for _, v := range words {
		if _, err := fmt.Fprintf(bw, "%04x\n", v); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadHex parses an object image written by WriteHex. Blank lines are skipped.
func ReadHex(r io.Reader) ([]uint16, error) {
	var words []uint16
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("object line %d: invalid word %q", lineNo, s)
		}
		words = append(words, uint16(v))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return words, nil
}
