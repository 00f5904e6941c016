// Package json provides JSON serialization backed by goccy/go-json with
// pooled buffers for the hot paths (response decoding and JSONL stores).
package json

import (
	"bufio"
	"bytes"
	"io"

	gojson "github.com/goccy/go-json"

	"github.com/discordwell/cliaas/pkg/pool"
)

var buffers = pool.New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 4096)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	return buffers.Get()
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		buffers.Discard(buf)
		return
	}
	buffers.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Valid reports whether data is a valid JSON encoding
func Valid(data []byte) bool {
	return gojson.Valid(data)
}

// RawMessage is a raw encoded JSON value
type RawMessage = gojson.RawMessage

// LineEncoder writes values as newline-delimited JSON
type LineEncoder struct {
	w   *bufio.Writer
	enc *gojson.Encoder
}

// NewLineEncoder creates a JSONL encoder over w. Call Flush when done.
func NewLineEncoder(w io.Writer) *LineEncoder {
	bw := bufio.NewWriter(w)
	enc := gojson.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &LineEncoder{w: bw, enc: enc}
}

// Encode writes v followed by a newline
func (e *LineEncoder) Encode(v interface{}) error {
	return e.enc.Encode(v)
}

// Flush flushes buffered lines to the underlying writer
func (e *LineEncoder) Flush() error {
	return e.w.Flush()
}

// DecodeLines calls fn with every non-empty line of r
func DecodeLines(r io.Reader, fn func(line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
