// Package waveform decodes and rewrites the WAV payloads exchanged with
// synthesizers, the sentence cache and audio players.
package waveform

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// HeaderSize is the size of a canonical RIFF/WAVE header in bytes.
	HeaderSize = 44

	// FormatPCM is the WAVE format tag for uncompressed PCM.
	FormatPCM = 1
)

var (
	// ErrDecode is returned when a payload is not a readable WAV container.
	ErrDecode = errors.New("waveform decode failed")
	// ErrUnsupportedFormat is returned when a WAV cannot be rewritten.
	ErrUnsupportedFormat = errors.New("unsupported waveform format")
)

// Waveform is a decoded WAV payload.
type Waveform struct {
	SampleRate  int
	SampleWidth int // bytes per sample
	Channels    int
	Samples     []int
}

// Header holds the format fields of a WAV container.
type Header struct {
	SampleRate  int
	SampleWidth int
	Channels    int
}

// ReadHeader parses only the format fields of data.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than a wav header", ErrDecode, len(data))
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if dec.NumChans < 1 || dec.BitDepth < 8 || dec.SampleRate == 0 {
		return Header{}, fmt.Errorf("%w: missing or invalid fmt chunk", ErrDecode)
	}
	return Header{
		SampleRate:  int(dec.SampleRate),
		SampleWidth: int(dec.BitDepth+7) / 8,
		Channels:    int(dec.NumChans),
	}, nil
}

// Decode parses a WAV container and its PCM samples. Samples are read from
// the start of the data chunk to the end of the payload; the chunk size in
// the header is ignored. A trailing partial frame is dropped.
func Decode(data []byte) (Waveform, error) {
	header, err := ReadHeader(data)
	if err != nil {
		return Waveform{}, err
	}
	pcm := data[pcmOffset(data):]
	frame := header.SampleWidth * header.Channels
	pcm = pcm[:len(pcm)-len(pcm)%frame]

	samples := make([]int, len(pcm)/header.SampleWidth)
	for i := range samples {
		b := pcm[i*header.SampleWidth:]
		switch header.SampleWidth {
		case 1:
			// 8-bit pcm is unsigned.
			samples[i] = int(b[0])
		case 2:
			samples[i] = int(int16(binary.LittleEndian.Uint16(b)))
		case 3:
			samples[i] = int(audio.Int24LETo32(b[:3]))
		case 4:
			samples[i] = int(int32(binary.LittleEndian.Uint32(b)))
		default:
			return Waveform{}, fmt.Errorf("%w: %d-byte samples", ErrUnsupportedFormat, header.SampleWidth)
		}
	}
	return Waveform{
		SampleRate:  header.SampleRate,
		SampleWidth: header.SampleWidth,
		Channels:    header.Channels,
		Samples:     samples,
	}, nil
}

// pcmOffset walks the RIFF chunks to the data chunk and returns where its
// payload starts. Malformed chunk lists fall back to the canonical offset.
func pcmOffset(data []byte) int {
	pos := 12
	for pos+8 <= len(data) {
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		if string(data[pos:pos+4]) == "data" {
			return pos + 8
		}
		next := pos + 8 + size + size%2
		if size < 0 || next <= pos || next > len(data) {
			break
		}
		pos = next
	}
	return HeaderSize
}

// EstimateDuration derives the playback length from the payload size rather
// than the frame count in the header, which some synthesizers get wrong.
func EstimateDuration(data []byte) (time.Duration, error) {
	header, err := ReadHeader(data)
	if err != nil {
		return 0, err
	}
	frames := float64(len(data)-HeaderSize) / float64(header.SampleWidth)
	seconds := frames / float64(header.SampleRate)
	return time.Duration(seconds * float64(time.Second)), nil
}

// Encode writes samples as a PCM WAV container.
func Encode(samples []int, sampleRate, bitDepth, channels int) ([]byte, error) {
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit pcm", ErrUnsupportedFormat, bitDepth)
	}
	out := &seekBuffer{}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, FormatPCM)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// Silence returns a WAV of zero samples lasting d.
func Silence(d time.Duration, sampleRate, bitDepth, channels int) ([]byte, error) {
	frames := int(d.Seconds() * float64(sampleRate))
	return Encode(make([]int, frames*channels), sampleRate, bitDepth, channels)
}

// WrapPCM wraps 16-bit little endian PCM into a WAV container.
func WrapPCM(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: pcm payload not aligned", ErrDecode)
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}
	return Encode(samples, sampleRate, 16, channels)
}

// ScaleAmplitude multiplies every sample by factor and re-encodes the WAV.
// Every sample after the header is kept even when the header under-reports
// the data size.
// A factor of exactly 1 returns data untouched. Negative factors are treated
// as 0 and samples saturate at the limits of the sample width.
func ScaleAmplitude(data []byte, factor float64) ([]byte, error) {
	if factor == 1.0 {
		return data, nil
	}
	w, err := Decode(data)
	if err != nil {
		return nil, err
	}
	bitDepth := w.SampleWidth * 8
	if factor < 0 || math.IsNaN(factor) {
		factor = 0
	}

	// 8-bit samples are unsigned around a midpoint of 128.
	bias := 0
	if bitDepth == 8 {
		bias = 128
	}
	maxVal := float64(int64(1)<<(bitDepth-1) - 1)
	minVal := -float64(int64(1) << (bitDepth - 1))
	scaled := make([]int, len(w.Samples))
	for i, s := range w.Samples {
		v := float64(s-bias) * factor
		if v > maxVal {
			v = maxVal
		} else if v < minVal {
			v = minVal
		}
		scaled[i] = int(v) + bias
	}
	return Encode(scaled, w.SampleRate, bitDepth, w.Channels)
}

// Scale is the best-effort form of ScaleAmplitude: on any failure the
// original bytes are returned and the error is logged.
func Scale(data []byte, factor float64, log *slog.Logger) []byte {
	out, err := ScaleAmplitude(data, factor)
	if err != nil {
		if log != nil {
			log.Warn("volume change failed, using original audio",
				slog.Float64("volume", factor),
				slog.String("error", err.Error()))
		}
		return data
	}
	return out
}

// Peak returns the largest absolute sample value.
func Peak(w Waveform) int {
	peak := 0
	for _, s := range w.Samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
