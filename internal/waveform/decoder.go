package waveform

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// Decoder turns encoded audio bytes into stereo PCM frames. It is an
// explicitly owned handle injected into the Extractor so tests can
// substitute a synthetic decoder without touching real codecs.
type Decoder interface {
	Decode(data []byte) ([][2]float64, error)
}

// BeepDecoder decodes WAV, FLAC and MP3 containers via gopxl/beep.
// The container is picked by magic-byte sniffing, not file extension.
type BeepDecoder struct{}

func NewBeepDecoder() *BeepDecoder {
	return &BeepDecoder{}
}

func (d *BeepDecoder) Decode(data []byte) ([][2]float64, error) {
	stream, err := openStream(data)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var frames [][2]float64
	buf := make([][2]float64, 2048)
	for {
		n, ok := stream.Stream(buf)
		frames = append(frames, buf[:n]...)
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("pcm stream: %w", err)
	}
	return frames, nil
}

func openStream(data []byte) (beep.StreamSeekCloser, error) {
	r := readCloser{bytes.NewReader(data)}

	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		s, _, err := wav.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("wav decode: %w", err)
		}
		return s, nil
	case bytes.HasPrefix(data, []byte("fLaC")):
		s, _, err := flac.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("flac decode: %w", err)
		}
		return s, nil
	default:
		// MP3 frames have no single magic; let the decoder decide.
		s, _, err := mp3.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("mp3 decode: %w", err)
		}
		return s, nil
	}
}

// readCloser adapts a bytes.Reader (ReadSeeker) into the ReadCloser
// the mp3 decoder wants while keeping Seek for the wav decoder.
type readCloser struct {
	*bytes.Reader
}

func (readCloser) Close() error { return nil }

var _ io.ReadSeeker = readCloser{}
