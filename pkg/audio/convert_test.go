package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/voxclip/pkg/audio"
)

// int16sToBytes converts a slice of int16 samples to little-endian byte representation.
func int16sToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestSamplesFromPCM16_RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 16384, -16384, 32767, -32767}
	samples := audio.SamplesFromPCM16(int16sToBytes(in))
	if len(samples) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(samples), len(in))
	}
	out := audio.SamplesToPCM16(samples)
	for i, want := range in {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		if got != want {
			t.Errorf("sample %d: got %d, want %d", i, got, want)
		}
	}
}

func TestSamplesFromPCM16_OddByteIgnored(t *testing.T) {
	samples := audio.SamplesFromPCM16([]byte{0x01, 0x00, 0xff})
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
}

func TestSamplesFromInts_BitDepths(t *testing.T) {
	tests := []struct {
		name     string
		data     []int
		bitDepth int
		want     []audio.Sample
	}{
		{"16-bit", []int{32767, 0, -32767}, 16, []audio.Sample{1, 0, -1}},
		{"8-bit unsigned", []int{255, 128, 1}, 8, []audio.Sample{1, 0, -1}},
		{"24-bit", []int{8388607, -8388607}, 24, []audio.Sample{1, -1}},
		{"unknown depth falls back to 16-bit", []int{32767}, 12, []audio.Sample{1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := audio.SamplesFromInts(tc.data, tc.bitDepth)
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d: got %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestDownmix_Stereo(t *testing.T) {
	in := []audio.Sample{0.5, 0.25, -0.5, -0.25, 1}
	got := audio.Downmix(in, 2)
	want := []audio.Sample{0.375, -0.375}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmix_MonoPassthrough(t *testing.T) {
	in := []audio.Sample{0.1, 0.2}
	got := audio.Downmix(in, 1)
	if &got[0] != &in[0] {
		t.Error("mono input should be returned without copying")
	}
}

func TestSamplesToInts(t *testing.T) {
	got := audio.SamplesToInts([]audio.Sample{1, -1, 0, 2})
	want := []int{32767, -32767, 0, 32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}
