// Package wav provides a pure-Go decoder for RIFF/WAVE payloads built on
// github.com/go-audio/wav.
//
// It needs no external binary and is the default backend for deployments that
// receive uncompressed audio. Multi-channel input is downmixed to mono.
package wav

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/voxclip/pkg/audio"
	"github.com/MrWong99/voxclip/pkg/provider/decoder"
)

// Compile-time assertion that Provider implements decoder.Provider.
var _ decoder.Provider = (*Provider)(nil)

// Provider implements decoder.Provider for WAV payloads.
type Provider struct{}

// New returns a WAV decoder.
func New() *Provider {
	return &Provider{}
}

// Decode parses data as a WAV file. Anything that is not a valid WAV file
// yields [decoder.Failed].
func (p *Provider) Decode(ctx context.Context, data []byte, resumeFrom int) (decoder.Result, error) {
	if err := ctx.Err(); err != nil {
		return decoder.Failed(resumeFrom), fmt.Errorf("wav: %w", err)
	}

	d := gowav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		slog.Debug("wav: not a valid wav payload", "bytes", len(data))
		return decoder.Failed(resumeFrom), nil
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		slog.Debug("wav: decode failed, treating as empty", "err", err, "bytes", len(data))
		return decoder.Failed(resumeFrom), nil
	}

	channels := int(d.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	samples := audio.Downmix(audio.SamplesFromInts(buf.Data, int(d.BitDepth)), channels)
	return decoder.FromDecoded(samples, resumeFrom, int(d.SampleRate), audio.CodecPCM), nil
}
