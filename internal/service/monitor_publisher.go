package service

import (
	"context"
	"encoding/json"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/config"
	"github.com/stemsi/exstem-groupexam/internal/model"
)

// DefaultMonitorBuffer is the number of events held while Redis is slow.
const DefaultMonitorBuffer = 256

// MonitorPublisher forwards notable group test events to the proctor
// monitor channel and to the audit queue drained by the event worker.
// Ticks are not forwarded.
type MonitorPublisher struct {
	rdb    *redis.Client
	clock  clockwork.Clock
	log    zerolog.Logger
	events chan model.GroupTestEvent
}

// NewMonitorPublisher creates a publisher. Run must be started to drain it.
func NewMonitorPublisher(rdb *redis.Client, clock clockwork.Clock, buffer int, log zerolog.Logger) *MonitorPublisher {
	if buffer <= 0 {
		buffer = DefaultMonitorBuffer
	}
	return &MonitorPublisher{
		rdb:    rdb,
		clock:  clock,
		log:    log.With().Str("component", "monitor_publisher").Logger(),
		events: make(chan model.GroupTestEvent, buffer),
	}
}

// Attach subscribes the publisher to a controller. Use it as a manager hook.
func (p *MonitorPublisher) Attach(c *GroupTestController) {
	c.Subscribe(p.Listen)
}

// Listen queues an event for a snapshot without blocking. When the buffer is
// full the event is dropped.
func (p *MonitorPublisher) Listen(s model.Snapshot) {
	if s.Event == model.EventTick || s.Event == model.EventState {
		return
	}
	ev := model.NewGroupTestEvent(s, p.clock.Now())
	select {
	case p.events <- ev:
	default:
		p.log.Warn().Str("session_id", s.SessionID.String()).Str("event", s.Event).Msg("Monitor buffer full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled.
func (p *MonitorPublisher) Run(ctx context.Context) {
	p.log.Info().Msg("MonitorPublisher started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("MonitorPublisher stopped")
			return
		case ev := <-p.events:
			p.publish(ctx, ev)
		}
	}
}

func (p *MonitorPublisher) publish(ctx context.Context, ev model.GroupTestEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode monitor event")
		return
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.GroupTestMonitorChannel(ev.SessionID.String()), data)
	pipe.RPush(ctx, config.WorkerKey.PersistGroupTestEventsQueue, data)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Error().Err(err).Str("session_id", ev.SessionID.String()).Msg("Failed to publish monitor event")
	}
}
