package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"integram/pkg/auth"
	"integram/pkg/httpx"
	"integram/pkg/models"
	"integram/pkg/reqs"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleTZone stores the client/server clock offset, rounded to the nearest
// half hour, in the tzone cookie.
func (s *Server) handleTZone(ctx context.Context, rq *request) (any, error) {
	raw := rq.param("tz")
	if raw == "" {
		return nil, httpx.Validation("tz is required")
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, httpx.Validation("tz must be seconds")
	}
	rounded := auth.RoundTZ(sec)
	http.SetCookie(rq.w, auth.TZCookie(rounded))
	return models.OK{Msg: strconv.FormatInt(rounded, 10)}, nil
}

func (s *Server) handleAlive(ctx context.Context, rq *request) (any, error) {
	return models.OK{Msg: "alive"}, nil
}

func (s *Server) handleVersion(ctx context.Context, rq *request) (any, error) {
	return map[string]string{"version": s.Version}, nil
}

// handleLog returns the newest audit entries for this database.
func (s *Server) handleLog(ctx context.Context, rq *request) (any, error) {
	if s.Audit == nil {
		return nil, httpx.NotFound("audit log disabled")
	}
	limit := int(rq.paramInt("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	recs, err := s.Audit.Tail(ctx, rq.db, limit)
	if err != nil {
		return nil, httpx.StoreFailed(err)
	}
	rep := &models.Report{Columns: []models.Column{
		{ID: 0, Name: "At", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
		{ID: 0, Name: "Action", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
		{ID: 0, Name: "Object", Type: reqs.TypeNumber, Format: string(reqs.AlignRight)},
		{ID: 0, Name: "User", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
		{ID: 0, Name: "Detail", Type: reqs.TypeChars, Format: string(reqs.AlignLeft)},
	}}
	for _, rec := range recs {
		rep.Data = append(rep.Data, []string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Action,
			strconv.FormatInt(rec.ObjectID, 10),
			rec.Username,
			rec.Detail,
		})
	}
	return rep, nil
}

// handleEvents upgrades to a websocket and relays the live event stream
// until either side closes.
func (s *Server) handleEvents(ctx context.Context, rq *request) (any, error) {
	if s.Events == nil {
		httpx.WriteJSONError(rq.w, http.StatusServiceUnavailable, "stream unavailable")
		return nil, nil
	}
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(rq.w, rq.r, opts)
	if err != nil {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, models.OK{Msg: "ready"})
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return nil, nil
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return nil, nil
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return nil, nil
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return nil, nil
			}
		}
	}
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
