package waveform

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawWAV builds a canonical 44-byte header by hand so tests can lie about
// the data chunk size.
func rawWAV(pcm []byte, sampleRate, channels, bitsPerSample int, dataSize uint32) []byte {
	header := make([]byte, HeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], FormatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(header[32:34], uint16(channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)
	return append(header, pcm...)
}

func constantWAV(t *testing.T, value, frames int) []byte {
	t.Helper()
	samples := make([]int, frames)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = value
		} else {
			samples[i] = -value
		}
	}
	data, err := Encode(samples, 22050, 16, 1)
	require.NoError(t, err)
	return data
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSilenceLayout(t *testing.T) {
	data, err := Silence(time.Second, 22050, 16, 1)
	require.NoError(t, err)
	assert.Len(t, data, HeaderSize+22050*2)

	w, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 22050, w.SampleRate)
	assert.Equal(t, 2, w.SampleWidth)
	assert.Equal(t, 1, w.Channels)
	assert.Len(t, w.Samples, 22050)
}

func TestEstimateDurationOneSecond(t *testing.T) {
	data, err := Silence(time.Second, 22050, 16, 1)
	require.NoError(t, err)

	d, err := EstimateDuration(data)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestEstimateDurationIgnoresHeaderFrameCount(t *testing.T) {
	pcm := make([]byte, 22050*2)
	data := rawWAV(pcm, 22050, 1, 16, 0x7FFFFFF0)

	d, err := EstimateDuration(data)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestEstimateDurationMonotonic(t *testing.T) {
	var last time.Duration
	for n := 0; n <= 4096; n += 64 {
		data := rawWAV(make([]byte, n), 16000, 1, 16, uint32(n))
		d, err := EstimateDuration(data)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, last, "duration shrank at %d bytes", n)
		last = d
	}
}

func TestDecodeRejectsTruncatedAndMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"truncated": []byte("RIFF\x24\x00\x00\x00WAVE"),
		"not riff":  make([]byte, 64),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))

			_, err = EstimateDuration(data)
			assert.True(t, errors.Is(err, ErrDecode))
		})
	}
}

func TestScaleAmplitudeIdentity(t *testing.T) {
	data := constantWAV(t, 12000, 256)
	out, err := ScaleAmplitude(data, 1.0)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	garbage := []byte("definitely not a wav")
	out, err = ScaleAmplitude(garbage, 1.0)
	require.NoError(t, err)
	assert.Equal(t, garbage, out)
}

func TestScaleAmplitudeHalvesPeak(t *testing.T) {
	data := constantWAV(t, 10000, 512)
	out, err := ScaleAmplitude(data, 0.5)
	require.NoError(t, err)

	before, err := Decode(data)
	require.NoError(t, err)
	after, err := Decode(out)
	require.NoError(t, err)

	assert.Equal(t, before.SampleRate, after.SampleRate)
	assert.Equal(t, before.SampleWidth, after.SampleWidth)
	assert.Equal(t, before.Channels, after.Channels)
	assert.Len(t, out, len(data))
	assert.Equal(t, 10000, Peak(before))
	assert.Equal(t, 5000, Peak(after))
}

func TestScaleAmplitudeSaturates(t *testing.T) {
	data := constantWAV(t, 30000, 64)
	out, err := ScaleAmplitude(data, 4)
	require.NoError(t, err)

	w, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, 32767, w.Samples[0])
	assert.Equal(t, -32768, w.Samples[1])
}

func TestScaleAmplitudeNegativeFactorSilences(t *testing.T) {
	data := constantWAV(t, 30000, 64)
	out, err := ScaleAmplitude(data, -0.5)
	require.NoError(t, err)

	w, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, 0, Peak(w))
}

func TestScaleAmplitudeEightBit(t *testing.T) {
	// unsigned samples: 128 is the midpoint
	data := rawWAV([]byte{228, 28, 128, 255}, 8000, 1, 8, 4)
	out, err := ScaleAmplitude(data, 0.5)
	require.NoError(t, err)

	w, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, 1, w.SampleWidth)
	assert.Equal(t, []int{178, 78, 128, 191}, w.Samples)
}

func TestScaleAmplitudeUnsupportedWidth(t *testing.T) {
	data := rawWAV(make([]byte, 64), 8000, 1, 64, 64)
	_, err := ScaleAmplitude(data, 0.5)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestScaleAmplitudeKeepsSamplesPastDeclaredSize(t *testing.T) {
	frames := 22050
	pcm := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(8000)))
	}

	for _, declared := range []uint32{0, 100} {
		data := rawWAV(pcm, 22050, 1, 16, declared)
		out, err := ScaleAmplitude(data, 0.5)
		require.NoError(t, err)
		assert.Len(t, out, len(data))

		w, err := Decode(out)
		require.NoError(t, err)
		require.Len(t, w.Samples, frames)
		assert.Equal(t, 4000, w.Samples[0])
		assert.Equal(t, 4000, w.Samples[frames-1])

		before, err := EstimateDuration(data)
		require.NoError(t, err)
		after, err := EstimateDuration(out)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	}
}

func TestDecodeFindsDataAfterExtraChunk(t *testing.T) {
	data := rawWAV(nil, 16000, 1, 16, 0)
	list := []byte("LIST\x04\x00\x00\x00INFO")
	pcm := []byte{0x10, 0x27, 0xF0, 0xD8}
	withList := append(append(append([]byte{}, data[:36]...), list...), data[36:]...)
	withList = append(withList, pcm...)

	w, err := Decode(withList)
	require.NoError(t, err)
	assert.Equal(t, []int{10000, -10000}, w.Samples)
}

func TestScaleFallsBackToOriginal(t *testing.T) {
	garbage := []byte("this is not audio at all, but it is long enough to pass")
	out := Scale(garbage, 0.3, discardLogger())
	assert.Equal(t, garbage, out)
}

func TestWrapPCM(t *testing.T) {
	pcm := []byte{0x10, 0x27, 0xF0, 0xD8} // 10000, -10000
	data, err := WrapPCM(pcm, 16000, 1)
	require.NoError(t, err)

	w, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []int{10000, -10000}, w.Samples)

	_, err = WrapPCM([]byte{0x01}, 16000, 1)
	assert.Error(t, err)
}
