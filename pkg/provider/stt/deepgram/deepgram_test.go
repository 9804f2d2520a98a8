package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxclip/pkg/audio"
	"github.com/MrWong99/voxclip/pkg/provider/stt"
)

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(16000, "en")
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithEndpoint("ws://localhost:9/v1/listen"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(8000, "de-DE")
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "host", "localhost:9", u.Host)
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "8000", q.Get("sample_rate"))
}

func TestBuildURL_InvalidRate(t *testing.T) {
	p, _ := New("key")
	if _, err := p.buildURL(0, "en"); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOK  bool
		wantTyp string
	}{
		{"results", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hi"}]}}`, true, "Results"},
		{"metadata", `{"type":"Metadata"}`, true, "Metadata"},
		{"garbage", `not json`, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, ok := parseResponse([]byte(tc.input))
			if ok != tc.wantOK || resp.Type != tc.wantTyp {
				t.Errorf("parseResponse = %+v, %v", resp, ok)
			}
		})
	}
}

// fakeDeepgram accepts one session, counts audio bytes until CloseStream and
// replies with the given messages before closing normally.
func fakeDeepgram(t *testing.T, replies []string, gotBytes *atomic.Int64, gotAuth *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				gotBytes.Add(int64(len(data)))
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				break
			}
		}
		for _, msg := range replies {
			if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
}

func TestTranscribe_JoinsFinalResults(t *testing.T) {
	var gotBytes atomic.Int64
	var gotAuth atomic.Value
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":" world "}]}}`,
		`{"type":"Metadata"}`,
	}, &gotBytes, &gotAuth)
	defer srv.Close()

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatal(err)
	}
	clip := stt.Clip{Samples: make([]audio.Sample, 10000), SampleRate: 16000}
	got, err := p.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "hello world", got.Text)
	assertEqual(t, "language", "en", got.Language)
	assertEqual(t, "authorization", "Token secret", gotAuth.Load().(string))
	if gotBytes.Load() != 20000 {
		t.Errorf("server received %d audio bytes, want 20000", gotBytes.Load())
	}
}

func TestTranscribe_EmptyClip(t *testing.T) {
	p, _ := New("key")
	if _, err := p.Transcribe(context.Background(), stt.Clip{SampleRate: 16000}); !errors.Is(err, stt.ErrEmptyClip) {
		t.Fatalf("err = %v, want ErrEmptyClip", err)
	}
}

func TestTranscribe_ServerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	_, err := p.Transcribe(context.Background(), stt.Clip{Samples: make([]audio.Sample, 10), SampleRate: 16000})
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
