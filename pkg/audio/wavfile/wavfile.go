// Package wavfile writes mono 16-bit PCM WAV files from [audio.Sample] slices
// using github.com/go-audio/wav.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/voxclip/pkg/audio"
)

const (
	bitDepth       = 16
	numChannels    = 1
	audioFormatPCM = 1
)

// Encode writes samples as a mono 16-bit WAV stream to w. The WAV header
// carries sizes that are only known at the end, so w must be seekable.
func Encode(w io.WriteSeeker, samples []audio.Sample, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("wavfile: invalid sample rate %d", sampleRate)
	}
	e := wav.NewEncoder(w, sampleRate, bitDepth, numChannels, audioFormatPCM)
	err := e.Write(&goaudio.IntBuffer{
		Data: audio.SamplesToInts(samples),
		Format: &goaudio.Format{
			NumChannels: numChannels,
			SampleRate:  sampleRate,
		},
		SourceBitDepth: bitDepth,
	})
	if err != nil {
		e.Close()
		return fmt.Errorf("wavfile: write samples: %w", err)
	}
	if err := e.Close(); err != nil {
		return fmt.Errorf("wavfile: finalise: %w", err)
	}
	return nil
}

// EncodeBytes returns samples as an in-memory WAV file.
func EncodeBytes(samples []audio.Sample, sampleRate int) ([]byte, error) {
	var buf seekBuffer
	if err := Encode(&buf, samples, sampleRate); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// WriteFile creates (or truncates) the file at path and writes samples to it.
func WriteFile(path string, samples []audio.Sample, sampleRate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("wavfile: %w", cerr)
		}
	}()
	return Encode(f, samples, sampleRate)
}

// seekBuffer is a growable in-memory io.WriteSeeker.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, errors.New("wavfile: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("wavfile: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}
