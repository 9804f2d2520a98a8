package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxclip/internal/clipper"
	"github.com/MrWong99/voxclip/internal/observe"
	"github.com/MrWong99/voxclip/internal/pipeline"
)

// reasonClientClose marks a close the client asked for with a text message.
// The connection is still writable then, so final utterances are sent.
const reasonClientClose = "closed by client"

// wsEvent is one server-to-client WebSocket message.
type wsEvent struct {
	Type      string          `json:"type"` // "utterance", "error" or "closed"
	Utterance *pipeline.Event `json:"utterance,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// handleWS streams chunks over one WebSocket connection. Binary messages are
// chunks; the text messages "flush" and "close" map to the HTTP endpoints of
// the same name. The stream is closed when the connection ends.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := observe.StreamLogger(r.Context(), id)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.maxChunk)
	ctx := r.Context()

	stream, err := s.streams.Open(ctx, id)
	if err != nil {
		_ = wsjson.Write(ctx, conn, wsEvent{Type: "error", Error: err.Error()})
		conn.Close(websocket.StatusTryAgainLater, "stream unavailable")
		return
	}

	closeCode, reason := s.wsLoop(ctx, conn, stream)

	// The request context may already be gone; finish the stream regardless.
	finCtx := context.WithoutCancel(ctx)
	if utts, ok := s.streams.Close(finCtx, id); ok {
		events, _ := s.pipe.Process(finCtx, utts)
		if reason == reasonClientClose {
			s.sendEvents(ctx, conn, events)
			_ = wsjson.Write(ctx, conn, wsEvent{Type: "closed"})
		}
	}
	conn.Close(closeCode, reason)
	log.Debug("websocket stream ended", "code", closeCode.String())
}

// wsLoop serves messages until the client leaves or asks to close. It returns
// the close status to send.
func (s *Server) wsLoop(ctx context.Context, conn *websocket.Conn, stream *clipper.Stream) (websocket.StatusCode, string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return websocket.StatusNormalClosure, ""
			case websocket.StatusMessageTooBig:
				return websocket.StatusMessageTooBig, "chunk too large"
			}
			return websocket.StatusInternalError, "read failed"
		}

		var utts []clipper.Utterance
		switch typ {
		case websocket.MessageBinary:
			utts, err = stream.Feed(ctx, data)
		case websocket.MessageText:
			switch cmd := strings.TrimSpace(string(data)); cmd {
			case "flush":
				utts, err = stream.Flush(ctx)
			case "close":
				return websocket.StatusNormalClosure, reasonClientClose
			default:
				err = errors.New("unknown command " + cmd)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return websocket.StatusGoingAway, "shutting down"
			}
			if werr := wsjson.Write(ctx, conn, wsEvent{Type: "error", Error: err.Error()}); werr != nil {
				return websocket.StatusInternalError, "write failed"
			}
			continue
		}

		events, err := s.pipe.Process(ctx, utts)
		if err != nil {
			return websocket.StatusGoingAway, "shutting down"
		}
		if !s.sendEvents(ctx, conn, events) {
			return websocket.StatusInternalError, "write failed"
		}
	}
}

func (s *Server) sendEvents(ctx context.Context, conn *websocket.Conn, events []pipeline.Event) bool {
	for i := range events {
		if err := wsjson.Write(ctx, conn, wsEvent{Type: "utterance", Utterance: &events[i]}); err != nil {
			return false
		}
	}
	return true
}
