package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jonathan/siteforge/internal/logging"
	"github.com/jonathan/siteforge/internal/safefetch"
	"github.com/jonathan/siteforge/internal/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	sseKeepAlive = 15 * time.Second
)

type createAuditRequest struct {
	URL string `json:"url" validate:"required,max=2048,url"`
}

// handleCreateAudit validates the target and starts an audit in the background.
func (s *Server) handleCreateAudit(w http.ResponseWriter, r *http.Request) {
	var req createAuditRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.audits.Start(r.Context(), req.URL)
	if err != nil {
		var blocked *safefetch.BlockedError
		if errors.As(err, &blocked) {
			s.jsonResponse(w, http.StatusBadRequest, map[string]string{
				"error":  "target is not allowed",
				"reason": blocked.Reason,
			})
			return
		}
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/audits/"+job.ID.String())
	s.jsonResponse(w, http.StatusAccepted, job)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := s.audits.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

func (s *Server) handleAuditStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	status, err := s.audits.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, status)
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	after, err := parseCursor(r.URL.Query().Get("after"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.audits.Events(r.Context(), id, after)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, page)
}

// handleAuditStream streams stage events as Server-Sent Events until the
// terminal event has been sent or the client goes away.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	cursorParam := r.URL.Query().Get("after")
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		cursorParam = last
	}
	after, err := parseCursor(cursorParam)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.audits.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.streamOpened()
	defer s.streamClosed()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	ctx := r.Context()
	emit := func(position int, ev types.StageEvent) error {
		select {
		case <-keepAlive.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return err
			}
		default:
		}
		return sse.WriteEvent(position, string(ev.Stage), ev)
	}
	if err := s.followEvents(ctx, id, after, emit); err != nil && ctx.Err() == nil {
		logging.WithError(logging.WithJob(s.logger, id.String()), err).Warn("event stream ended early")
		sse.WriteError("event stream interrupted")
	}
}

// handleAuditWebsocket streams stage events over a websocket.
func (s *Server) handleAuditWebsocket(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	after, err := parseCursor(r.URL.Query().Get("after"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.audits.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WithError(s.logger, err).Warn("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()
	s.streamOpened()
	defer s.streamClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readPump(conn, cancel)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	emit := func(_ int, ev types.StageEvent) error {
		select {
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		default:
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev)
	}

	err = s.followEvents(ctx, id, after, emit)
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err != nil && ctx.Err() == nil {
		logging.WithError(logging.WithJob(s.logger, id.String()), err).Warn("websocket stream ended early")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "event stream interrupted"))
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "complete"))
}

// readPump discards client messages and cancels the stream when the client
// disconnects or stops answering pings.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// followEvents polls the event log from cursor and passes each event to emit
// with its position in the log. It returns after emitting the terminal event.
// When the log holds nothing for a finished job, as on a process that did not
// run it, the terminal state is rebuilt from the stored record.
func (s *Server) followEvents(ctx context.Context, id uuid.UUID, cursor int, emit func(position int, ev types.StageEvent) error) error {
	ticker := time.NewTicker(s.streamPoll)
	defer ticker.Stop()

	for {
		page, err := s.audits.Events(ctx, id, cursor)
		if err != nil {
			return err
		}
		for i, ev := range page.Events {
			if err := emit(cursor+i+1, ev); err != nil {
				return err
			}
		}
		cursor = page.Cursor
		if page.Complete {
			return nil
		}

		if page.Cursor == 0 {
			job, err := s.audits.Get(ctx, id)
			if err != nil {
				return err
			}
			if job.IsTerminal() {
				return emit(-1, terminalEvent(job))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// terminalEvent rebuilds the final event of a finished job.
func terminalEvent(job *types.AuditJob) types.StageEvent {
	ev := types.StageEvent{
		Index:     job.CompletedStageCount,
		Total:     types.TotalAuditStages,
		Stage:     types.StageComplete,
		Message:   "audit complete",
		Snapshot:  job.Snapshot(),
		Timestamp: job.UpdatedAt,
	}
	if job.Status == types.AuditStatusError {
		ev.Stage = types.StageError
		ev.Message = job.Error
	}
	return ev
}

func (s *Server) streamOpened() {
	if s.metrics != nil {
		s.metrics.StreamsActive.Inc()
	}
}

func (s *Server) streamClosed() {
	if s.metrics != nil {
		s.metrics.StreamsActive.Dec()
	}
}

func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Debug("invalid id in path", slog.String("param", name), slog.String("value", raw))
		s.writeError(w, r, &ErrValidation{Message: name + " must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func parseCursor(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &ErrValidation{Message: "after must be a non-negative integer"}
	}
	return n, nil
}
