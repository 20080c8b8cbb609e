package handler

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/config"
	"github.com/stemsi/exstem-groupexam/internal/model"
	"github.com/stemsi/exstem-groupexam/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
)

// MonitorHandler streams a group test's monitor channel to a proctor view
// over SSE. Events come from the MonitorPublisher through Redis, so any agent
// sharing the Redis instance can serve the stream.
type MonitorHandler struct {
	rdb     *redis.Client
	manager *service.GroupTestManager
	log     zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, manager *service.GroupTestManager, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:     rdb,
		manager: manager,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorSSE godoc
// GET /api/v1/group-tests/:id/monitor
func (h *MonitorHandler) MonitorSSE(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// The local snapshot is only available when the test is open here.
	h.sendLocal(c, id, "snapshot")

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.GroupTestMonitorChannel(id.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	// Ticks are not published, so remaining time is refreshed from the local
	// controller instead.
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("session_id", id.String()).Msg("Proctor attached to group test monitor")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("session_id", id.String()).Msg("Proctor detached from group test monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON, it is already a model.GroupTestEvent.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendLocal(c, id, "refresh")

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) sendLocal(c *gin.Context, id uuid.UUID, kind string) {
	ctrl, err := h.manager.Get(id)
	if err != nil {
		return
	}
	c.SSEvent("message", map[string]interface{}{
		"type": kind,
		"data": model.NewGroupTestEvent(ctrl.Snapshot(), time.Now()),
	})
	c.Writer.Flush()
}
