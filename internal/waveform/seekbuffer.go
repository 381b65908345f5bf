package waveform

import (
	"errors"
	"io"
)

// seekBuffer is an in-memory io.WriteSeeker. The wav encoder seeks back to
// patch chunk sizes once all samples are written, which bytes.Buffer cannot do.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		if end > cap(s.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, s.buf)
			s.buf = grown
		} else {
			s.buf = s.buf[:end]
		}
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(s.pos) + offset
	case io.SeekEnd:
		next = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekbuffer: invalid whence")
	}
	if next < 0 {
		return 0, errors.New("seekbuffer: negative position")
	}
	s.pos = int(next)
	return next, nil
}

func (s *seekBuffer) Bytes() []byte {
	return s.buf
}
