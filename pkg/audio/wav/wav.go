// Package wav reads and writes canonical RIFF/WAVE files carrying 16-bit PCM
// audio. It covers exactly what the test harness needs: stripping the 44-byte
// header from input files before streaming, rebuilding a header around
// synthesized audio received from the service, and converting inputs recorded
// at other rates or channel counts down to the wire format.
package wav

import (
	"encoding/binary"
	"fmt"
	"time"
)

// HeaderSize is the size of a canonical WAV header: RIFF descriptor, a plain
// 16-byte fmt chunk and the data chunk header.
const HeaderSize = 44

// Wire is the PCM format the dialog service accepts upstream.
var Wire = Format{SampleRate: 16000, Channels: 1, Depth: 16}

// Format describes linear PCM audio.
type Format struct {
	SampleRate int
	Channels   int
	Depth      int
}

// BlockAlign returns the size of one frame (one sample per channel) in bytes.
func (f Format) BlockAlign() int {
	return f.Channels * f.Depth / 8
}

// ByteRate returns the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// BytesInDuration returns the number of bytes in the given duration.
func (f Format) BytesInDuration(d time.Duration) int64 {
	samples := int64(time.Duration(f.SampleRate) * d / time.Second)
	return samples * int64(f.BlockAlign())
}

// Duration returns the duration of the given number of payload bytes.
func (f Format) Duration(bytes int64) time.Duration {
	if f.ByteRate() == 0 {
		return 0
	}
	samples := bytes / int64(f.BlockAlign())
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// String returns the format as a media type string.
func (f Format) String() string {
	return fmt.Sprintf("audio/L%d; rate=%d; channels=%d", f.Depth, f.SampleRate, f.Channels)
}

func (f Format) validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.Depth != 16 {
		return fmt.Errorf("wav: unsupported format %s", f)
	}
	return nil
}

// EncodeHeader builds a canonical 44-byte header for dataLen bytes of PCM
// payload in the given format. The RIFF size field is dataLen+36 and the data
// chunk size field is dataLen, so a finished file's data size field always
// equals the file length minus HeaderSize.
func EncodeHeader(f Format, dataLen uint32) []byte {
	h := make([]byte, HeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], dataLen+HeaderSize-8)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.Depth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataLen)
	return h
}

// DecodeHeader parses a canonical WAV header from the start of b. It returns
// the audio format and the length the data chunk declares. Files with extra
// chunks between fmt and data, compressed encodings, or truncated headers are
// rejected.
func DecodeHeader(b []byte) (Format, uint32, error) {
	if len(b) < HeaderSize {
		return Format{}, 0, fmt.Errorf("wav: header truncated: %d bytes", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Format{}, 0, fmt.Errorf("wav: not a RIFF/WAVE file")
	}
	if string(b[12:16]) != "fmt " || binary.LittleEndian.Uint32(b[16:20]) != 16 {
		return Format{}, 0, fmt.Errorf("wav: non-canonical fmt chunk")
	}
	if codec := binary.LittleEndian.Uint16(b[20:22]); codec != 1 {
		return Format{}, 0, fmt.Errorf("wav: unsupported codec %d, want PCM", codec)
	}
	if string(b[36:40]) != "data" {
		return Format{}, 0, fmt.Errorf("wav: non-canonical layout: data chunk not at offset 36")
	}
	f := Format{
		SampleRate: int(binary.LittleEndian.Uint32(b[24:28])),
		Channels:   int(binary.LittleEndian.Uint16(b[22:24])),
		Depth:      int(binary.LittleEndian.Uint16(b[34:36])),
	}
	if err := f.validate(); err != nil {
		return Format{}, 0, err
	}
	return f, binary.LittleEndian.Uint32(b[40:44]), nil
}

// Strip validates the canonical header of a whole WAV file held in memory and
// returns its format and PCM payload. The payload aliases b.
func Strip(b []byte) (Format, []byte, error) {
	f, declared, err := DecodeHeader(b)
	if err != nil {
		return Format{}, nil, err
	}
	payload := b[HeaderSize:]
	if int(declared) < len(payload) {
		// Trust the header over trailing bytes.
		payload = payload[:declared]
	}
	return f, payload, nil
}
