package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voxclip/pkg/audio"
	"github.com/MrWong99/voxclip/pkg/provider/stt"
	"github.com/MrWong99/voxclip/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

type inferenceRequest struct {
	language string
	model    string
	wav      []byte
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. The last parsed request is stored in
// *last and every matched request increments *callCount.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32, last *inferenceRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if last != nil {
			last.language = r.FormValue("language")
			last.model = r.FormValue("model")
			if f, _, err := r.FormFile("file"); err == nil {
				last.wav, _ = io.ReadAll(f)
				f.Close()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func speechClip(n int) stt.Clip {
	s := make([]audio.Sample, n)
	for i := range s {
		s[i] = 0.3
	}
	return stt.Clip{Samples: s, SampleRate: 16000}
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ReturnsTrimmedText(t *testing.T) {
	var calls atomic.Int32
	var last inferenceRequest
	srv := newMockServer(t, "  hello there \n", &calls, &last)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), speechClip(1600))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello there" {
		t.Errorf("Text = %q, want %q", tr.Text, "hello there")
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if last.language != "de" || last.model != "base.en" {
		t.Errorf("form fields language=%q model=%q", last.language, last.model)
	}
	if !bytes.HasPrefix(last.wav, []byte("RIFF")) {
		t.Error("uploaded file is not a WAV file")
	}
	// 44-byte header + 2 bytes per sample.
	if len(last.wav) != 44+1600*2 {
		t.Errorf("wav size = %d, want %d", len(last.wav), 44+1600*2)
	}
}

func TestTranscribe_ClipLanguageOverridesDefault(t *testing.T) {
	var last inferenceRequest
	srv := newMockServer(t, "bonjour", nil, &last)

	p, _ := whisper.New(srv.URL)
	clip := speechClip(160)
	clip.Language = "fr"
	tr, err := p.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if last.language != "fr" || tr.Language != "fr" {
		t.Errorf("language sent %q, reported %q; want fr", last.language, tr.Language)
	}
}

func TestTranscribe_EmptyClip(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Clip{SampleRate: 16000})
	if !errors.Is(err, stt.ErrEmptyClip) {
		t.Fatalf("err = %v, want ErrEmptyClip", err)
	}
	if calls.Load() != 0 {
		t.Error("server must not be called for an empty clip")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), speechClip(160)); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestTranscribe_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), speechClip(160)); err == nil {
		t.Fatal("expected error for malformed response")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	srv := newMockServer(t, "x", nil, nil)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, speechClip(160)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
