package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/config"
	"github.com/stemsi/exstem-groupexam/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventSink stores group test events.
type EventSink interface {
	InsertBatch(ctx context.Context, events []model.GroupTestEvent) (int64, error)
	Insert(ctx context.Context, e model.GroupTestEvent) error
}

// EventWorker drains the monitor event queue into the audit table in batches.
type EventWorker struct {
	sink EventSink
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewEventWorker(sink EventSink, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		sink: sink,
		rdb:  rdb,
		log:  log.With().Str("component", "event_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	buffer := make([]model.GroupTestEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// BLPop returns immediately when the queue has data.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistGroupTestEventsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		ev, ok := w.decode(result[1])
		if !ok {
			continue
		}
		buffer = append(buffer, ev)
	}
}

// decode parses a queued event. Malformed payloads cannot be retried and are
// dropped.
func (w *EventWorker) decode(raw string) (model.GroupTestEvent, bool) {
	var ev model.GroupTestEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed event")
		return ev, false
	}
	if ev.SessionID == uuid.Nil || ev.Event == "" {
		w.log.Error().Str("data", raw).Msg("Discarding event without session or name")
		return ev, false
	}
	return ev, true
}

// flushSafe attempts a bulk insert, then row-by-row inserts, then requeues
// what still failed.
func (w *EventWorker) flushSafe(ctx context.Context, batch []model.GroupTestEvent) {
	n, err := w.sink.InsertBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int64("rows", n).Msg("Flushed event batch")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.GroupTestEvent
	for _, ev := range batch {
		if err := w.sink.Insert(ctx, ev); err != nil {
			w.log.Error().Err(err).Str("session_id", ev.SessionID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, ev)
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *EventWorker) requeue(ctx context.Context, items []model.GroupTestEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistGroupTestEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue events, data loss occurred")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed events")
	// Back off so a database outage does not spin the loop.
	time.Sleep(2 * time.Second)
}

func (w *EventWorker) shutdown(buffer []model.GroupTestEvent) {
	w.log.Info().Int("pending", len(buffer)).Msg("EventWorker stopping, flushing buffer")
	if len(buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(ctx, buffer)
}
