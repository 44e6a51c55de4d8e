package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/PaulFidika/authstudio/adapters/ginutil"
	"github.com/PaulFidika/authstudio/core"
	"github.com/PaulFidika/authstudio/events"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// maxCatchUpPages bounds how many pages one poll reads when events arrive
// faster than the marquee limit.
const maxCatchUpPages = 10

type StreamOptions struct {
	WriteTimeout time.Duration
	// CheckOrigin defaults to same-origin only.
	CheckOrigin func(*http.Request) bool
	Log         logrus.FieldLogger
}

func (o StreamOptions) defaulted() StreamOptions {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	return o
}

// StreamMessage is one websocket frame: Type is "events" or "error".
type StreamMessage struct {
	Type   string             `json:"type"`
	Events []events.AuthEvent `json:"events,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// HandleEventsStreamGET upgrades to a websocket and pushes new events at the
// live marquee poll interval. The first frame carries the latest page.
// Access control runs before this handler.
func HandleEventsStreamGET(r *core.Router, opts StreamOptions) gin.HandlerFunc {
	opts = opts.defaulted()
	up := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096, CheckOrigin: opts.CheckOrigin}
	log := opts.Log.WithField("component", "authstudio.stream")
	return func(c *gin.Context) {
		src := r.Source()
		cfg := src.Config()
		m := cfg.Marquee()
		if !cfg.Enabled || !m.Enabled {
			ginutil.NotFound(c, "live marquee disabled")
			return
		}
		conn, err := up.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the error response.
			log.WithError(err).Debug("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		go readPump(conn, cancel)

		s := &stream{conn: conn, cur: &marqueeCursor{src: src, limit: m.Limit, sort: m.Sort}, timeout: opts.WriteTimeout, log: log}
		if cl, ok := core.ClaimsFromContext(c.Request.Context()); ok {
			s.log = log.WithField("sub", cl.Subject)
		}
		s.run(ctx, m.PollInterval)
	}
}

// readPump drains client frames; a read error means the peer went away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type stream struct {
	conn    *websocket.Conn
	cur     *marqueeCursor
	timeout time.Duration
	log     logrus.FieldLogger
}

func (s *stream) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	first := true
	for {
		batch, err := s.cur.next(ctx)
		switch {
		case ctx.Err() != nil:
			s.close(websocket.CloseNormalClosure, "")
			return
		case errors.Is(err, events.ErrQueryUnsupported):
			_ = s.write(StreamMessage{Type: "error", Error: "provider does not support queries"})
			s.close(websocket.CloseUnsupportedData, "queries unsupported")
			return
		case err != nil:
			s.log.WithError(err).Warn("marquee query failed")
			if s.write(StreamMessage{Type: "error", Error: "failed to query events"}) != nil {
				return
			}
		case first || len(batch) > 0:
			if s.write(StreamMessage{Type: "events", Events: batch}) != nil {
				return
			}
			first = false
		}
		select {
		case <-ctx.Done():
			s.close(websocket.CloseNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func (s *stream) write(msg StreamMessage) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.log.WithError(err).Debug("websocket write failed")
		return err
	}
	return nil
}

func (s *stream) close(code int, text string) {
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(s.timeout))
}

// marqueeCursor remembers the newest event sent and reads what came after it.
type marqueeCursor struct {
	src   core.Source
	limit int
	sort  events.SortOrder
	last  string
}

// next returns the events to push, ordered for display. The first call
// returns the latest page; later calls return only newer events.
func (mc *marqueeCursor) next(ctx context.Context) ([]events.AuthEvent, error) {
	if mc.last == "" {
		res, err := mc.src.Query(ctx, events.QueryOptions{Limit: mc.limit, Sort: events.SortDesc})
		if err != nil {
			return nil, err
		}
		if len(res.Events) > 0 {
			mc.last = res.Events[0].ID
		}
		return mc.ordered(res.Events, events.SortDesc), nil
	}
	var out []events.AuthEvent
	for range maxCatchUpPages {
		res, err := mc.src.Query(ctx, events.QueryOptions{Limit: mc.limit, Sort: events.SortAsc, After: mc.last})
		if errors.Is(err, events.ErrCursorNotFound) {
			// The cursor event expired; start over from the latest page.
			mc.last = ""
			return mc.next(ctx)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, res.Events...)
		if len(res.Events) > 0 {
			mc.last = res.Events[len(res.Events)-1].ID
		}
		if !res.HasMore {
			break
		}
	}
	return mc.ordered(out, events.SortAsc), nil
}

func (mc *marqueeCursor) ordered(es []events.AuthEvent, have events.SortOrder) []events.AuthEvent {
	if have != mc.sort {
		slices.Reverse(es)
	}
	return es
}
