package wavfile_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/MrWong99/voxclip/pkg/audio"
	"github.com/MrWong99/voxclip/pkg/audio/wavfile"
)

func TestEncodeBytes_Readable(t *testing.T) {
	in := []audio.Sample{0, 0.5, -0.5, 1, -1}
	data, err := wavfile.EncodeBytes(in, 16000)
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("missing RIFF header: %q", data[:min(4, len(data))])
	}

	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		t.Fatal("decoder rejected encoded file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if d.SampleRate != 16000 || d.NumChans != 1 || d.BitDepth != 16 {
		t.Errorf("header = %d Hz, %d ch, %d bit", d.SampleRate, d.NumChans, d.BitDepth)
	}
	want := []int{0, 16384, -16384, 32767, -32767}
	if len(buf.Data) != len(want) {
		t.Fatalf("got %d samples, want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestEncode_InvalidRate(t *testing.T) {
	if _, err := wavfile.EncodeBytes([]audio.Sample{0}, 0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := wavfile.WriteFile(path, make([]audio.Sample, 320), 16000); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	// 44-byte header + 320 samples * 2 bytes.
	if info.Size() != 44+640 {
		t.Errorf("file size = %d, want %d", info.Size(), 44+640)
	}
}
