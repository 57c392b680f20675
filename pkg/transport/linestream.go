package transport

import (
	"bufio"
	"encoding/json"
	"io"
)

// maxLineBytes bounds a single scanner/mailbox line, mirroring
// MaxFrameBytes's purpose for the length-prefixed transport.
const maxLineBytes = 16 << 20

// LineStream decodes newline-delimited JSON values, one per line, per
// the scanner-socket Stream contract (device_scanner_client::stream_lines,
// emf-mailbox's line_stream). Blank lines are skipped.
type LineStream struct {
	scanner *bufio.Scanner
}

// NewLineStream wraps r for line-by-line JSON decoding.
func NewLineStream(r io.Reader) *LineStream {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &LineStream{scanner: s}
}

// Next decodes the next non-blank line into v, reporting false with a
// nil error at end of stream.
func (l *LineStream) Next(v any) (bool, error) {
	for l.scanner.Scan() {
		line := l.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, l.scanner.Err()
}
