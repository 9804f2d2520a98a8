// Package server exposes the clipper over HTTP and WebSocket.
//
// Routes:
//
//	POST   /v1/streams/{id}/chunks      feed one chunk, returns finished utterances
//	POST   /v1/streams/{id}/flush       close the utterance in progress
//	DELETE /v1/streams/{id}             close the stream, returns its last utterances
//	GET    /v1/streams                  list open streams
//	GET    /v1/streams/{id}/utterances  stored records of a stream
//	DELETE /v1/streams/{id}/utterances  purge stored records and clips
//	GET    /v1/streams/{id}/ws          WebSocket: binary messages are chunks
//	GET    /healthz, /readyz, /metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrWong99/voxclip/internal/clipper"
	"github.com/MrWong99/voxclip/internal/clipstore"
	"github.com/MrWong99/voxclip/internal/dispatch"
	"github.com/MrWong99/voxclip/internal/health"
	"github.com/MrWong99/voxclip/internal/observe"
	"github.com/MrWong99/voxclip/internal/pipeline"
)

// DefaultMaxChunkBytes is used when no limit is configured.
const DefaultMaxChunkBytes = 32 << 20

// Option configures a [Server].
type Option func(*Server)

// WithMaxChunkBytes caps the request body of one chunk.
func WithMaxChunkBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxChunk = n
		}
	}
}

// WithMetrics sets the metrics used by the HTTP middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithHealth serves the health checks of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithWAVSink lets the purge endpoint remove clip files.
func WithWAVSink(sink *clipstore.WAVSink) Option {
	return func(s *Server) { s.wav = sink }
}

// Server is the HTTP front end.
type Server struct {
	streams  *clipper.Manager
	pipe     *pipeline.Pipeline
	maxChunk int64

	metrics        *observe.Metrics
	metricsHandler http.Handler
	health         *health.Handler
	wav            *clipstore.WAVSink

	handler http.Handler
}

// New builds the route table.
func New(streams *clipper.Manager, pipe *pipeline.Pipeline, opts ...Option) *Server {
	s := &Server{
		streams:  streams,
		pipe:     pipe,
		maxChunk: DefaultMaxChunkBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/streams/{id}/chunks", s.handleChunk)
	mux.HandleFunc("POST /v1/streams/{id}/flush", s.handleFlush)
	mux.HandleFunc("DELETE /v1/streams/{id}", s.handleClose)
	mux.HandleFunc("GET /v1/streams", s.handleList)
	mux.HandleFunc("GET /v1/streams/{id}/utterances", s.handleUtterances)
	mux.HandleFunc("DELETE /v1/streams/{id}/utterances", s.handlePurge)
	mux.HandleFunc("GET /v1/streams/{id}/ws", s.handleWS)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type utterancesResponse struct {
	StreamID   string           `json:"stream_id"`
	Utterances []pipeline.Event `json:"utterances"`
}

type streamInfo struct {
	ID         string `json:"id"`
	SampleRate int    `json:"sample_rate"`
	SourceRate int    `json:"source_rate"`
	Codec      string `json:"codec"`
	Chunks     int    `json:"chunks"`
	Offset     int    `json:"offset"`
	Buffered   int    `json:"buffered"`
	Emitted    int    `json:"emitted"`
	Dropped    int    `json:"dropped"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	chunk, err := readBody(w, r, s.maxChunk)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(chunk) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty chunk"))
		return
	}

	stream, err := s.streams.Open(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	utts, err := stream.Feed(r.Context(), chunk)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.respond(w, r, id, utts)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stream, ok := s.streams.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("stream not open"))
		return
	}
	utts, err := stream.Flush(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.respond(w, r, id, utts)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	utts, ok := s.streams.Close(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("stream not open"))
		return
	}
	s.respond(w, r, id, utts)
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	ids := s.streams.IDs()
	out := make([]streamInfo, 0, len(ids))
	for _, id := range ids {
		st, ok := s.streams.Get(id)
		if !ok {
			continue
		}
		stats := st.Stats()
		out = append(out, streamInfo{
			ID:         id,
			SampleRate: st.SampleRate(),
			SourceRate: st.SourceRate(),
			Codec:      st.Codec().String(),
			Chunks:     st.Chunks(),
			Offset:     st.Offset(),
			Buffered:   stats.Buffered,
			Emitted:    stats.Emitted,
			Dropped:    st.Dropped(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUtterances(w http.ResponseWriter, r *http.Request) {
	recs, err := s.pipe.Store().List(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []clipstore.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	store := s.pipe.Store()
	if s.wav != nil {
		recs, err := store.List(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if err := s.wav.Remove(recs); err != nil {
			observe.StreamLogger(r.Context(), id).Warn("removing clips failed", "err", err)
		}
	}
	if err := store.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respond runs utts through the pipeline and writes them.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, id string, utts []clipper.Utterance) {
	events, err := s.pipe.Process(r.Context(), utts)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, utterancesResponse{StreamID: id, Utterances: events})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, clipper.ErrTooManyStreams):
		return http.StatusTooManyRequests
	case errors.Is(err, clipper.ErrStreamClosed):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, limit)
	defer body.Close()
	return io.ReadAll(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
