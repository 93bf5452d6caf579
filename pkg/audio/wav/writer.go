package wav

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// Writer writes a WAV file incrementally. The header is written up front with
// zero length fields and patched on Close, once the payload size is known.
type Writer struct {
	f      *os.File
	format Format
	data   int64
	closed bool
}

// Create opens path for writing and writes a provisional header. The caller
// must Close the writer to finalize the length fields.
func Create(path string, format Format) (*Writer, error) {
	if err := format.validate(); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create %s: %w", path, err)
	}
	if _, err := f.Write(EncodeHeader(format, 0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	return &Writer{f: f, format: format}, nil
}

// Write appends PCM payload bytes.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("wav: write on closed writer")
	}
	n, err := w.f.Write(p)
	w.data += int64(n)
	if err != nil {
		return n, fmt.Errorf("wav: write payload: %w", err)
	}
	return n, nil
}

// Bytes returns the number of payload bytes written so far.
func (w *Writer) Bytes() int64 {
	return w.data
}

// Duration returns the duration of the payload written so far.
func (w *Writer) Duration() time.Duration {
	return w.format.Duration(w.data)
}

// Close patches the RIFF and data chunk sizes and closes the file. It is safe
// to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], uint32(w.data)+HeaderSize-8)
	if _, err := w.f.WriteAt(sz[:], 4); err != nil {
		w.f.Close()
		return fmt.Errorf("wav: finalize riff size: %w", err)
	}
	binary.LittleEndian.PutUint32(sz[:], uint32(w.data))
	if _, err := w.f.WriteAt(sz[:], 40); err != nil {
		w.f.Close()
		return fmt.Errorf("wav: finalize data size: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("wav: close: %w", err)
	}
	return nil
}
