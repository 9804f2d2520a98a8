package audio_test

import (
	"testing"

	"github.com/MrWong99/voxclip/pkg/audio"
)

func TestSample_Int16(t *testing.T) {
	tests := []struct {
		in   audio.Sample
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{1.5, 32767},
		{-7, -32767},
		{0.5, 16384}, // 16383.5 rounds away from zero
		{-0.5, -16384},
	}
	for _, tc := range tests {
		if got := tc.in.Int16(); got != tc.want {
			t.Errorf("Sample(%v).Int16() = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSampleFromInt16_RoundTrip(t *testing.T) {
	for _, v := range []int16{-32767, -12345, -1, 0, 1, 12345, 32767} {
		if got := audio.SampleFromInt16(v).Int16(); got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}
}

func TestEnergy_SumOfSquares(t *testing.T) {
	got := audio.Energy([]audio.Sample{0.5, -0.5, 1})
	if got != 1.5 {
		t.Errorf("Energy = %v, want 1.5", got)
	}
	if audio.Energy(nil) != 0 {
		t.Error("Energy of empty window should be 0")
	}
}

func TestCodec_ByteRoundTrip(t *testing.T) {
	for _, c := range []audio.Codec{audio.CodecNone, audio.CodecAAC, audio.CodecMP3, audio.CodecOpus, audio.CodecPCM} {
		if got := audio.CodecFromByte(c.Byte()); got != c {
			t.Errorf("CodecFromByte(%d) = %v, want %v", c.Byte(), got, c)
		}
	}
	if got := audio.CodecFromByte(200); got != audio.CodecOpus {
		t.Errorf("unknown byte should map to opus, got %v", got)
	}
}

func TestParseCodec(t *testing.T) {
	tests := map[string]audio.Codec{
		"aac":       audio.CodecAAC,
		"MP3":       audio.CodecMP3,
		"mp3float":  audio.CodecMP3,
		"opus":      audio.CodecOpus,
		"pcm_s16le": audio.CodecPCM,
		"vorbis":    audio.CodecNone,
		"":          audio.CodecNone,
	}
	for name, want := range tests {
		if got := audio.ParseCodec(name); got != want {
			t.Errorf("ParseCodec(%q) = %v, want %v", name, got, want)
		}
	}
	if audio.CodecNone.IsSome() || !audio.CodecAAC.IsSome() {
		t.Error("IsSome mismatch")
	}
}
