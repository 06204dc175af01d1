package openaicompat

import (
	"bufio"
	"errors"
	"io"
)

// LineReader splits a byte stream into newline-delimited lines. Partial
// reads are buffered until a newline arrives. At end of stream a non-empty
// remainder is returned as a final line. Lines have no length limit.
type LineReader struct {
	r   *bufio.Reader
	err error
}

// NewLineReader creates a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r)}
}

// Next returns the next line without its trailing newline. It returns
// io.EOF once the stream is exhausted and every line has been returned.
func (l *LineReader) Next() (string, error) {
	if l.err != nil {
		return "", l.err
	}
	line, err := l.r.ReadString('\n')
	if err != nil {
		l.err = err
		if errors.Is(err, io.EOF) && line != "" {
			return line, nil
		}
		return "", err
	}
	return line[:len(line)-1], nil
}
