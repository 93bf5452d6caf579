package wav

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Convert converts 16-bit PCM payload from src to dst, downmixing or
// duplicating channels first and then resampling when the rates differ. It
// returns the input unchanged when src equals dst.
func Convert(pcm []byte, src, dst Format) ([]byte, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	if err := dst.validate(); err != nil {
		return nil, err
	}
	if src == dst {
		return pcm, nil
	}
	if src.Channels > 2 || dst.Channels > 2 {
		return nil, fmt.Errorf("wav: convert: more than 2 channels unsupported")
	}

	switch {
	case src.Channels == 2 && dst.Channels == 1:
		pcm = stereoToMono(pcm)
	case src.Channels == 1 && dst.Channels == 2:
		pcm = monoToStereo(pcm)
	}
	if src.SampleRate == dst.SampleRate {
		return pcm, nil
	}

	config := &resampling.Config{
		InputRate:  float64(src.SampleRate),
		OutputRate: float64(dst.SampleRate),
		Channels:   dst.Channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}
	resampler, err := resampling.New(config)
	if err != nil {
		return nil, fmt.Errorf("wav: create resampler: %w", err)
	}

	// Normalize int16 little-endian samples to [-1, 1).
	frames := len(pcm) / 2
	input := make([]float64, frames)
	for i := range frames {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		input[i] = float64(sample) / 32768.0
	}

	output, err := resampler.Process(input)
	if err != nil {
		return nil, fmt.Errorf("wav: resample: %w", err)
	}

	out := make([]byte, len(output)*2)
	for i, s := range output {
		sample := int16(s * 32767.0)
		if s > 1.0 {
			sample = 32767
		} else if s < -1.0 {
			sample = -32768
		}
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	// Keep whole frames only.
	align := dst.BlockAlign()
	return out[:len(out)/align*align], nil
}

// stereoToMono averages L and R into a new mono buffer.
func stereoToMono(b []byte) []byte {
	frames := len(b) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		j := i * 4
		l := int16(b[j]) | int16(b[j+1])<<8
		r := int16(b[j+2]) | int16(b[j+3])<<8
		m := int16((int32(l) + int32(r)) / 2)
		out[i*2] = byte(m)
		out[i*2+1] = byte(m >> 8)
	}
	return out
}

// monoToStereo duplicates each sample into both channels.
func monoToStereo(b []byte) []byte {
	samples := len(b) / 2
	out := make([]byte, samples*4)
	for i := range samples {
		j := i * 4
		out[j], out[j+1] = b[i*2], b[i*2+1]
		out[j+2], out[j+3] = b[i*2], b[i*2+1]
	}
	return out
}
