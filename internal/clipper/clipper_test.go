package clipper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxclip/internal/clipper"
	"github.com/MrWong99/voxclip/internal/dispatch"
	"github.com/MrWong99/voxclip/pkg/audio"
	"github.com/MrWong99/voxclip/pkg/audio/segment"
	"github.com/MrWong99/voxclip/pkg/provider/decoder"
	"github.com/MrWong99/voxclip/pkg/provider/decoder/mock"
)

// ---- helpers ----------------------------------------------------------------

// At 1 kHz a detector window is 20 samples, the silence run 3000 samples and
// the trailing pad 200 samples.
const (
	rate       = 1000
	window     = 20
	threshold  = 1.0
	voiceLevel = 0.5
)

func silence(n int) []audio.Sample { return make([]audio.Sample, n) }

func voice(n int) []audio.Sample {
	s := make([]audio.Sample, n)
	for i := range s {
		s[i] = voiceLevel
	}
	return s
}

func concat(parts ...[]audio.Sample) []audio.Sample {
	var out []audio.Sample
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func twoUtterances() []audio.Sample {
	return concat(silence(3000), voice(500), silence(3500), voice(400), silence(3500))
}

// upsample repeats every sample factor times.
func upsample(in []audio.Sample, factor int) []audio.Sample {
	out := make([]audio.Sample, 0, len(in)*factor)
	for _, s := range in {
		for range factor {
			out = append(out, s)
		}
	}
	return out
}

// growingFile returns a decoder whose payload of n bytes stands for the first
// n samples of full, like a recording that grows with every upload.
func growingFile(full []audio.Sample, srcRate int, codec audio.Codec) *mock.Provider {
	return &mock.Provider{
		Fallback: func(data []byte, resumeFrom int) decoder.Result {
			n := min(len(data), len(full))
			return decoder.FromDecoded(full[:n], resumeFrom, srcRate, codec)
		},
	}
}

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	d := dispatch.New(16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(context.Background())
	}()
	t.Cleanup(func() {
		d.Close()
		<-done
	})
	return d
}

func baseConfig() clipper.Config {
	return clipper.Config{SilenceThreshold: threshold}
}

// feedCumulative uploads prefixes of total samples in steps of step.
func feedCumulative(t *testing.T, s *clipper.Stream, total, step int) []clipper.Utterance {
	t.Helper()
	var out []clipper.Utterance
	for n := step; ; n += step {
		n = min(n, total)
		u, err := s.Feed(context.Background(), make([]byte, n))
		if err != nil {
			t.Fatalf("Feed(%d): %v", n, err)
		}
		out = append(out, u...)
		if n == total {
			return out
		}
	}
}

// ---- stream -----------------------------------------------------------------

func TestStream_CumulativeChunks(t *testing.T) {
	full := twoUtterances()
	dec := growingFile(full, rate, audio.CodecAAC)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := clipper.NewManager(baseConfig(), dec, newDispatcher(t),
		clipper.WithClock(func() time.Time { return fixed }))

	s, err := m.Open(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := feedCumulative(t, s, len(full), 1000)

	if len(got) != 2 {
		t.Fatalf("got %d utterances, want 2", len(got))
	}
	wantLens := []int{window + 500 + 220, window + 400 + 220}
	for i, u := range got {
		if len(u.Samples) != wantLens[i] {
			t.Errorf("utterance %d: %d samples, want %d", i, len(u.Samples), wantLens[i])
		}
		if u.Seq != i+1 {
			t.Errorf("utterance %d: seq %d", i, u.Seq)
		}
		if u.StreamID != "room-1" || u.SampleRate != rate || u.Codec != audio.CodecAAC {
			t.Errorf("utterance %d metadata: %+v", i, u)
		}
		if !u.CreatedAt.Equal(fixed) {
			t.Errorf("CreatedAt = %v", u.CreatedAt)
		}
		if want := time.Duration(len(u.Samples)) * time.Millisecond; u.Duration != want {
			t.Errorf("Duration = %v, want %v", u.Duration, want)
		}
	}
	if got[0].ID == got[1].ID {
		t.Error("utterance IDs must be unique")
	}

	// Every call resumes where the previous one stopped.
	for i, c := range dec.Calls {
		if want := i * 1000; c.ResumeFrom != want {
			t.Errorf("call %d resumed from %d, want %d", i, c.ResumeFrom, want)
		}
	}
	if s.Offset() != len(full) {
		t.Errorf("Offset = %d, want %d", s.Offset(), len(full))
	}
}

func TestStream_DecimatesToTargetRate(t *testing.T) {
	full := upsample(twoUtterances(), 3)
	dec := growingFile(full, 3*rate, audio.CodecOpus)
	cfg := baseConfig()
	cfg.TargetSampleRate = rate
	m := clipper.NewManager(cfg, dec, newDispatcher(t))

	s, _ := m.Open(context.Background(), "s")
	got := feedCumulative(t, s, len(full), 777)

	if len(got) != 2 {
		t.Fatalf("got %d utterances, want 2", len(got))
	}
	if len(got[0].Samples) != window+500+220 || len(got[1].Samples) != window+400+220 {
		t.Errorf("lengths %d, %d", len(got[0].Samples), len(got[1].Samples))
	}
	if got[0].SampleRate != rate || s.SourceRate() != 3*rate || s.SampleRate() != rate {
		t.Errorf("rates: utterance %d, source %d, detector %d", got[0].SampleRate, s.SourceRate(), s.SampleRate())
	}
}

func TestStream_NonDivisorTargetKeepsSourceRate(t *testing.T) {
	full := twoUtterances()
	cfg := baseConfig()
	cfg.TargetSampleRate = 300 // 1000 is not a multiple of 300
	m := clipper.NewManager(cfg, growingFile(full, rate, audio.CodecMP3), newDispatcher(t))

	s, _ := m.Open(context.Background(), "s")
	got := feedCumulative(t, s, len(full), len(full))
	if len(got) != 2 || got[0].SampleRate != rate {
		t.Fatalf("got %d utterances at %d Hz", len(got), got[0].SampleRate)
	}
}

func TestStream_IndependentChunks(t *testing.T) {
	full := twoUtterances()
	dec := &mock.Provider{}
	for pos := 0; pos < len(full); pos += 2500 {
		block := full[pos:min(pos+2500, len(full))]
		dec.Results = append(dec.Results, decoder.Result{
			Samples:     block,
			SampleCount: len(block),
			SampleRate:  rate,
			Codec:       audio.CodecOpus,
		})
	}
	cfg := baseConfig()
	cfg.Mode = clipper.Independent
	m := clipper.NewManager(cfg, dec, newDispatcher(t))

	s, _ := m.Open(context.Background(), "s")
	var got []clipper.Utterance
	for range len(dec.Results) {
		u, err := s.Feed(context.Background(), []byte("chunk"))
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, u...)
	}
	if len(got) != 2 {
		t.Fatalf("got %d utterances, want 2", len(got))
	}
	for _, c := range dec.Calls {
		if c.ResumeFrom != 0 {
			t.Errorf("independent chunk resumed from %d", c.ResumeFrom)
		}
	}
	if s.Offset() != len(full) {
		t.Errorf("Offset = %d, want %d", s.Offset(), len(full))
	}
}

func TestStream_UndecodableChunkKeepsState(t *testing.T) {
	dec := &mock.Provider{Results: []decoder.Result{
		{Samples: voice(100), SampleCount: 100, SampleRate: rate, Codec: audio.CodecAAC},
		decoder.Failed(100),
		{Samples: voice(50), SampleCount: 150, Codec: audio.CodecNone},
	}}
	m := clipper.NewManager(baseConfig(), dec, newDispatcher(t))
	s, _ := m.Open(context.Background(), "s")

	for i := range 3 {
		if _, err := s.Feed(context.Background(), []byte{byte(i)}); err != nil {
			t.Fatalf("Feed %d: %v", i, err)
		}
	}
	if dec.Calls[2].ResumeFrom != 100 {
		t.Errorf("resume after failed chunk = %d, want 100", dec.Calls[2].ResumeFrom)
	}
	if s.Codec() != audio.CodecAAC {
		t.Errorf("codec = %v, an undetected codec must not overwrite the known one", s.Codec())
	}
	if s.SampleRate() != rate {
		t.Errorf("rate = %d, want %d", s.SampleRate(), rate)
	}
	if st := s.Stats(); st.Appended != 150 {
		t.Errorf("appended = %d, want 150", st.Appended)
	}
}

func TestStream_DecoderErrorIsReturned(t *testing.T) {
	boom := errors.New("ffmpeg missing")
	m := clipper.NewManager(baseConfig(), &mock.Provider{Err: boom}, newDispatcher(t))
	s, _ := m.Open(context.Background(), "s")

	if _, err := s.Feed(context.Background(), []byte("x")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if s.Chunks() != 0 {
		t.Errorf("Chunks = %d, want 0", s.Chunks())
	}
}

// gatedDecoder blocks its first Decode call until release is closed and
// ignores cancellation, like an external process that is already running.
type gatedDecoder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

var _ decoder.Provider = (*gatedDecoder)(nil)

func (g *gatedDecoder) Decode(_ context.Context, data []byte, resumeFrom int) (decoder.Result, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return decoder.FromDecoded(voice(len(data)), resumeFrom, rate, audio.CodecOpus), nil
}

func TestStream_CancelledFeedWhileDecoding(t *testing.T) {
	dec := &gatedDecoder{started: make(chan struct{}), release: make(chan struct{})}
	m := clipper.NewManager(baseConfig(), dec, newDispatcher(t))
	s, _ := m.Open(context.Background(), "s")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-dec.started
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := s.Feed(ctx, make([]byte, 100)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The abandoned decode finishes on the worker while the stream is used
	// again; its result must not leak into the stream.
	close(dec.release)
	if _, err := s.Feed(context.Background(), make([]byte, 200)); err != nil {
		t.Fatalf("Feed after cancellation: %v", err)
	}
	if s.Offset() != 200 || s.Chunks() != 1 {
		t.Errorf("Offset = %d, Chunks = %d, want 200 and 1", s.Offset(), s.Chunks())
	}
	if st := s.Stats(); st.Appended != 200 {
		t.Errorf("appended = %d, want 200", st.Appended)
	}
}

func TestStream_SourceRateChangeMidUtterance(t *testing.T) {
	dec := &mock.Provider{Results: []decoder.Result{
		{Samples: concat(silence(window), voice(100), silence(1000)), SampleCount: 1120, SampleRate: rate, Codec: audio.CodecOpus},
		{Samples: silence(5040), SampleCount: 6160, SampleRate: 2 * rate},
	}}
	m := clipper.NewManager(baseConfig(), dec, newDispatcher(t))
	s, _ := m.Open(context.Background(), "s")

	got, err := s.Feed(context.Background(), []byte("a"))
	if err != nil || len(got) != 0 {
		t.Fatalf("first Feed = %d utterances, %v", len(got), err)
	}
	if s.SampleRate() != rate {
		t.Fatalf("rate = %d, want %d", s.SampleRate(), rate)
	}

	got, err = s.Feed(context.Background(), []byte("ab"))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Calls[1].ResumeFrom != 1120 {
		t.Errorf("resume = %d, want 1120", dec.Calls[1].ResumeFrom)
	}
	if s.SampleRate() != 2*rate || s.SourceRate() != 2*rate {
		t.Errorf("rates after change: detector %d, source %d", s.SampleRate(), s.SourceRate())
	}
	// The run that started at 1 kHz closes after 6000 samples at 2 kHz and
	// keeps a 400-sample pad: lead-in + 100 voiced + 440 silent.
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	if got[0].SampleRate != 2*rate || len(got[0].Samples) != window+100+440 {
		t.Errorf("utterance: %d samples at %d Hz", len(got[0].Samples), got[0].SampleRate)
	}
	st := s.Stats()
	if st.Emitted+st.Discarded+st.LeadIn+st.Buffered != st.Appended || st.Appended != 6160 {
		t.Errorf("stats = %+v", st)
	}
	if s.Dropped() != 0 {
		t.Errorf("Dropped = %d without decimation", s.Dropped())
	}
}

func TestStream_RateChangeDropsPartialDecimatorWindow(t *testing.T) {
	dec := &mock.Provider{Results: []decoder.Result{
		// 2 kHz, factor 2: 1000 out, 1 pending.
		{Samples: silence(2001), SampleCount: 2001, SampleRate: 2 * rate},
		// 3 kHz, factor 3: the pending sample is dropped, 1000 out, 2 pending.
		{Samples: silence(3002), SampleCount: 5003, SampleRate: 3 * rate},
		// 1 kHz, no decimation: the 2 pending samples are dropped.
		{Samples: silence(500), SampleCount: 5503, SampleRate: rate},
	}}
	cfg := baseConfig()
	cfg.TargetSampleRate = rate
	m := clipper.NewManager(cfg, dec, newDispatcher(t))
	s, _ := m.Open(context.Background(), "s")

	wantDropped := []int{0, 1, 3}
	wantAppended := []int{1000, 2000, 2500}
	for i := range dec.Results {
		if _, err := s.Feed(context.Background(), []byte{byte(i)}); err != nil {
			t.Fatalf("Feed %d: %v", i, err)
		}
		if got := s.Dropped(); got != wantDropped[i] {
			t.Errorf("after chunk %d: Dropped = %d, want %d", i, got, wantDropped[i])
		}
		if got := s.Stats().Appended; got != wantAppended[i] {
			t.Errorf("after chunk %d: appended = %d, want %d", i, got, wantAppended[i])
		}
	}
	if s.SampleRate() != rate {
		t.Errorf("detector rate = %d, want %d", s.SampleRate(), rate)
	}
}

func TestStream_FlushReturnsSpeechInProgress(t *testing.T) {
	full := concat(silence(100), voice(300), silence(1000))
	m := clipper.NewManager(baseConfig(), growingFile(full, rate, audio.CodecAAC), newDispatcher(t))
	s, _ := m.Open(context.Background(), "s")

	if got := feedCumulative(t, s, len(full), len(full)); len(got) != 0 {
		t.Fatalf("no utterance should be complete yet, got %d", len(got))
	}
	got, err := s.Flush(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(got[0].Samples) != window+300+200 {
		t.Fatalf("flush returned %d utterances", len(got))
	}
}

func TestStream_LIFOOrder(t *testing.T) {
	full := twoUtterances()
	cfg := baseConfig()
	cfg.Order = segment.LIFO
	m := clipper.NewManager(cfg, growingFile(full, rate, audio.CodecAAC), newDispatcher(t))
	s, _ := m.Open(context.Background(), "s")

	got := feedCumulative(t, s, len(full), len(full))
	if len(got) != 2 {
		t.Fatalf("got %d utterances", len(got))
	}
	if len(got[0].Samples) != window+400+220 {
		t.Errorf("LIFO should deliver the newest utterance first, got length %d", len(got[0].Samples))
	}
	// Sequence numbers follow delivery order.
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("seqs = %d, %d", got[0].Seq, got[1].Seq)
	}
}

// ---- manager ----------------------------------------------------------------

func TestManager_OpenGetClose(t *testing.T) {
	m := clipper.NewManager(baseConfig(), &mock.Provider{}, newDispatcher(t), clipper.WithMaxStreams(2))
	ctx := context.Background()

	a, _ := m.Open(ctx, "b")
	again, _ := m.Open(ctx, "b")
	if a != again {
		t.Error("Open must return the existing stream")
	}
	if _, err := m.Open(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Open(ctx, "c"); !errors.Is(err, clipper.ErrTooManyStreams) {
		t.Fatalf("err = %v, want ErrTooManyStreams", err)
	}
	if ids := m.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("IDs = %v", ids)
	}

	if _, ok := m.Close(ctx, "b"); !ok {
		t.Fatal("Close should find stream b")
	}
	if _, ok := m.Close(ctx, "b"); ok {
		t.Error("second Close should report false")
	}
	if _, err := a.Feed(ctx, []byte("x")); !errors.Is(err, clipper.ErrStreamClosed) {
		t.Errorf("Feed on closed stream: %v", err)
	}
	if _, ok := m.Get("b"); ok {
		t.Error("closed stream still registered")
	}
	if m.Active() != 1 {
		t.Errorf("Active = %d, want 1", m.Active())
	}
}

func TestManager_CloseAllFlushes(t *testing.T) {
	full := concat(voice(300), silence(100))
	m := clipper.NewManager(baseConfig(), growingFile(full, rate, audio.CodecAAC), newDispatcher(t))
	ctx := context.Background()
	for _, id := range []string{"x", "y"} {
		s, _ := m.Open(ctx, id)
		feedCumulative(t, s, len(full), len(full))
	}
	if got := m.CloseAll(ctx); len(got) != 2 {
		t.Errorf("CloseAll returned %d utterances, want 2", len(got))
	}
	if m.Active() != 0 {
		t.Errorf("Active = %d", m.Active())
	}
}

func TestManager_SetConfigAffectsNewStreamsOnly(t *testing.T) {
	m := clipper.NewManager(baseConfig(), &mock.Provider{}, newDispatcher(t))
	ctx := context.Background()
	if _, err := m.Open(ctx, "old"); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.Mode = clipper.Independent
	m.SetConfig(cfg)
	if m.Config().Mode != clipper.Independent {
		t.Fatal("SetConfig not applied")
	}
}

func TestParseChunkMode(t *testing.T) {
	for in, want := range map[string]clipper.ChunkMode{"": clipper.Cumulative, "cumulative": clipper.Cumulative, "independent": clipper.Independent} {
		got, err := clipper.ParseChunkMode(in)
		if err != nil || got != want {
			t.Errorf("ParseChunkMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := clipper.ParseChunkMode("bogus"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
