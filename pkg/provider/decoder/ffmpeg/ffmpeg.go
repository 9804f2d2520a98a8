// Package ffmpeg provides a decoder backed by the ffmpeg command-line tool.
//
// Each payload is staged to a temporary file, because containers such as MP4
// keep their index at the end and cannot be inspected from a pipe. ffmpeg then
// decodes the first audio stream to 32-bit float mono PCM on stdout. The
// source codec and sample rate are parsed from ffmpeg's stream banner on
// stderr.
//
// Usage:
//
//	p, err := ffmpeg.New(ffmpeg.WithTempDir("/dev/shm"))
//	res, err := p.Decode(ctx, payload, resumeFrom)
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/MrWong99/voxclip/pkg/audio"
	"github.com/MrWong99/voxclip/pkg/provider/decoder"
)

const (
	defaultBinary  = "ffmpeg"
	defaultTempDir = "/dev/shm"

	// stderrTail bounds how much ffmpeg output is logged on failure.
	stderrTail = 512
)

// Compile-time assertion that Provider implements decoder.Provider.
var _ decoder.Provider = (*Provider)(nil)

// audioStreamRe matches the first input audio stream line, e.g.
//
//	Stream #0:1(und): Audio: aac (LC) (mp4a / 0x6134706D), 44100 Hz, stereo, fltp
var audioStreamRe = regexp.MustCompile(`Audio:\s*([A-Za-z0-9_]+)[^,\n]*,\s*(\d+)\s*Hz`)

// commandRunner executes an external command. It exists so tests can replace
// the real ffmpeg binary.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)
}

// execRunner runs commands through os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBinary sets the ffmpeg executable name or path. Defaults to "ffmpeg"
// resolved through PATH.
func WithBinary(path string) Option {
	return func(p *Provider) {
		if path != "" {
			p.binary = path
		}
	}
}

// WithTempDir sets the directory payloads are staged in. Defaults to
// /dev/shm; a trailing separator is ignored.
func WithTempDir(dir string) Option {
	return func(p *Provider) {
		if dir != "" {
			p.tempDir = dir
		}
	}
}

// withRunner replaces the command runner. Used by tests.
func withRunner(r commandRunner) Option {
	return func(p *Provider) { p.runner = r }
}

// Provider implements decoder.Provider by shelling out to ffmpeg.
type Provider struct {
	binary  string
	tempDir string
	runner  commandRunner
}

// New creates a Provider. It does not check that the binary exists; a missing
// binary surfaces as an error from the first Decode call.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		binary:  defaultBinary,
		tempDir: defaultTempDir,
		runner:  execRunner{},
	}
	for _, o := range opts {
		o(p)
	}
	info, err := os.Stat(p.tempDir)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: temp dir %q: %w", p.tempDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ffmpeg: temp dir %q is not a directory", p.tempDir)
	}
	return p, nil
}

// Decode stages data to a temporary file and decodes it with ffmpeg. Decoding
// failures yield [decoder.Failed]; only context cancellation and a missing
// binary are returned as errors.
func (p *Provider) Decode(ctx context.Context, data []byte, resumeFrom int) (decoder.Result, error) {
	if err := ctx.Err(); err != nil {
		return decoder.Failed(resumeFrom), fmt.Errorf("ffmpeg: %w", err)
	}

	path, err := p.stage(data)
	if err != nil {
		return decoder.Failed(resumeFrom), err
	}
	defer os.Remove(path)

	args := []string{
		"-hide_banner", "-nostdin",
		"-i", path,
		"-map", "0:a:0",
		"-ac", "1",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-",
	}
	stdout, stderr, err := p.runner.Run(ctx, p.binary, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return decoder.Failed(resumeFrom), fmt.Errorf("ffmpeg: %w", ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return decoder.Failed(resumeFrom), fmt.Errorf("ffmpeg: %w", err)
		}
		slog.Debug("ffmpeg: decode failed, treating as empty",
			"err", err,
			"bytes", len(data),
			"stderr", tail(stderr),
		)
		return decoder.Failed(resumeFrom), nil
	}

	codec, rate := parseStreamInfo(stderr)
	return decoder.FromDecoded(parseF32LE(stdout), resumeFrom, rate, codec), nil
}

// stage writes data to a new file in the temp dir and returns its path.
func (p *Provider) stage(data []byte) (string, error) {
	f, err := os.CreateTemp(p.tempDir, "voxclip-*.bin")
	if err != nil {
		return "", fmt.Errorf("ffmpeg: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("ffmpeg: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("ffmpeg: close temp file: %w", err)
	}
	return f.Name(), nil
}

// parseStreamInfo extracts the source codec and sample rate from the first
// audio stream described in ffmpeg's stderr. Unknown values are zero.
func parseStreamInfo(stderr []byte) (audio.Codec, int) {
	m := audioStreamRe.FindSubmatch(stderr)
	if m == nil {
		return audio.CodecNone, 0
	}
	rate, err := strconv.Atoi(string(m[2]))
	if err != nil {
		rate = 0
	}
	return audio.ParseCodec(string(m[1])), rate
}

// parseF32LE converts raw little-endian float32 PCM to samples. A trailing
// partial sample is ignored.
func parseF32LE(raw []byte) []audio.Sample {
	n := len(raw) / 4
	out := make([]audio.Sample, n)
	for i := range n {
		out[i] = audio.Sample(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return out
}

func tail(b []byte) string {
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return string(b)
}
