package clipstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/MrWong99/voxclip/pkg/audio"
	"github.com/MrWong99/voxclip/pkg/audio/wavfile"
)

// WAVSink writes utterance audio as mono 16-bit WAV files into a directory.
type WAVSink struct {
	dir string
}

// NewWAVSink creates dir if needed and returns a sink writing into it.
func NewWAVSink(dir string) (*WAVSink, error) {
	if dir == "" {
		return nil, errors.New("clipstore: wav sink: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("clipstore: wav sink: %w", err)
	}
	return &WAVSink{dir: dir}, nil
}

// Dir returns the output directory.
func (s *WAVSink) Dir() string { return s.dir }

// Write stores samples as <dir>/<id>.wav and returns the file path.
func (s *WAVSink) Write(id uuid.UUID, samples []audio.Sample, sampleRate int) (string, error) {
	path := filepath.Join(s.dir, id.String()+".wav")
	if err := wavfile.WriteFile(path, samples, sampleRate); err != nil {
		return "", fmt.Errorf("clipstore: write clip %s: %w", id, err)
	}
	return path, nil
}

// Remove deletes the clip files of the given records. Missing files are
// ignored.
func (s *WAVSink) Remove(records []Record) error {
	var errs []error
	for _, r := range records {
		if r.ClipPath == "" {
			continue
		}
		if err := os.Remove(r.ClipPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clipstore: remove clips: %w", err)
	}
	return nil
}
