package sshtail

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// recordReader splits a stream into newline-terminated records. A trailing
// fragment with no newline is left unconsumed: the writer may still be in
// the middle of it.
type recordReader struct {
	r        *bufio.Reader
	consumed int64 // bytes of complete records returned so far
	buf      []byte
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{r: bufio.NewReader(r)}
}

// next returns the next record with trailing "\r" and "\n" characters
// stripped. ok is false once only an unterminated fragment (or nothing)
// remains.
func (rr *recordReader) next() (line string, ok bool, err error) {
	for {
		chunk, err := rr.r.ReadSlice('\n')
		rr.buf = append(rr.buf, chunk...)
		switch {
		case err == nil:
			rr.consumed += int64(len(rr.buf))
			line = strings.TrimRight(string(rr.buf), "\r\n")
			rr.buf = rr.buf[:0]
			return line, true, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return "", false, nil
		default:
			return "", false, err
		}
	}
}
