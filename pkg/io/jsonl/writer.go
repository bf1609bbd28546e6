// Package jsonl writes detection results as JSON lines.
package jsonl

import (
	"bufio"
	"io"

	jsoniter "github.com/json-iterator/go"

	lgio "github.com/hed1ad/lakeguard/pkg/io"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer encodes one result per line.
type Writer struct {
	buf    *bufio.Writer
	enc    *jsoniter.Encoder
	closer io.Closer
}

var _ lgio.Writer = (*Writer)(nil)

// NewWriter writes to w. If w is an io.Closer, Close closes it after flushing.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	out := &Writer{buf: buf, enc: json.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		out.closer = c
	}
	return out
}

// Write outputs a single result.
func (w *Writer) Write(result lgio.Result) error {
	return w.enc.Encode(result)
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []lgio.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}

// Flush writes buffered lines.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// Close flushes and closes the underlying writer when it is closable.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
