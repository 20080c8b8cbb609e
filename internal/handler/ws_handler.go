package handler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/response"
	"github.com/stemsi/exstem-groupexam/internal/service"
	ws "github.com/stemsi/exstem-groupexam/internal/websocket"
)

// streamBuffer is the number of outbound messages queued per connection.
// Snapshots beyond it are dropped; the next tick carries the full state.
const streamBuffer = 64

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams group test snapshots and accepts controls over a
// WebSocket.
type WSHandler struct {
	manager  *service.GroupTestManager
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(manager *service.GroupTestManager, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		manager:  manager,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/group-tests/:id/stream
// Pushes a snapshot on every tick and transition of an open group test.
func (h *WSHandler) Stream(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctrl, err := h.manager.Get(id)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotOpen)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("session_id", id.String()).Logger()
	wsLog.Info().Msg("Client connected")

	out := make(chan interface{}, streamBuffer)
	send := func(v interface{}) {
		select {
		case out <- v:
		default:
			wsLog.Warn().Msg("Client too slow, dropping message")
		}
	}

	// closing is closed once the controller is unmounted; the write loop
	// flushes what is queued and ends the stream with a close frame.
	closing := make(chan struct{})
	var closeOnce sync.Once
	unsubscribe := ctrl.Subscribe(func(s model.Snapshot) {
		send(ws.NewSnapshotResponse(s))
		if s.Event == model.EventClosed {
			closeOnce.Do(func() { close(closing) })
		}
	})
	defer unsubscribe()
	send(ws.NewSnapshotResponse(ctrl.Snapshot()))

	done := make(chan struct{})
	defer close(done)
	go h.writeLoop(conn, out, closing, done, wsLog)

	ws.KeepAlive(conn)
	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		h.handleAction(c.Request.Context(), ctrl, msg, send, wsLog)
	}
}

// handleAction runs one control. Successful controls need no reply: the
// controller publishes the resulting snapshot to this connection.
func (h *WSHandler) handleAction(ctx context.Context, ctrl *service.GroupTestController, msg ws.RequestPayload, send func(interface{}), log zerolog.Logger) {
	var err error
	switch msg.Action {
	case ws.ActionPing:
		send(ws.PongResponse{Event: ws.EventPong})
		return
	case ws.ActionStart:
		_, err = ctrl.StartSession(ctx)
	case ws.ActionAnswer:
		if msg.QuestionID == "" || msg.Value == "" {
			send(ws.NewError(string(response.ErrValidation), "question_id and value are required"))
			return
		}
		_, err = ctrl.Answer(ctx, msg.QuestionID, msg.Value)
	case ws.ActionNext:
		_, err = ctrl.NextQuestion()
	case ws.ActionPrev:
		_, err = ctrl.PrevQuestion()
	case ws.ActionSubmit:
		_, err = ctrl.SubmitNow(ctx)
	case ws.ActionRetry:
		_, err = ctrl.Retry(ctx)
	case ws.ActionRetake:
		_, err = ctrl.Retake(ctx)
	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		send(ws.NewError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action)))
		return
	}

	if err != nil {
		_, code := classify(err)
		send(ws.NewError(string(code), response.GetMessage(code)))
	}
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, out <-chan interface{}, closing, done <-chan struct{}, log zerolog.Logger) {
	ping := time.NewTicker(ws.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-closing:
			drain(conn, out)
			log.Info().Msg("Group test closed, ending stream")
			_ = ws.WriteClose(conn, "group test closed")
			_ = conn.Close()
			return
		case v := <-out:
			if err := ws.WriteTyped(conn, v); err != nil {
				log.Debug().Err(err).Msg("Write failed, closing stream")
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := ws.WritePing(conn); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// drain writes whatever is already queued without waiting for more.
func drain(conn *websocket.Conn, out <-chan interface{}) {
	for {
		select {
		case v := <-out:
			if err := ws.WriteTyped(conn, v); err != nil {
				return
			}
		default:
			return
		}
	}
}
