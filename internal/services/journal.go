package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/models"
	"github.com/federated-storage/registry/internal/storage"
)

// Journal persists registry events to PostgreSQL in commit order. Publish
// only enqueues; a single Run goroutine performs the inserts.
type Journal struct {
	db     *storage.DB
	logger *zap.Logger
	queue  chan models.Event
	stop   chan struct{}
	done   chan struct{}
	retry  time.Duration

	abort     context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewJournal creates a journal with an in-memory buffer of bufferSize events
func NewJournal(db *storage.DB, bufferSize int, logger *zap.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	abort, cancel := context.WithCancel(context.Background())
	return &Journal{
		db:     db,
		logger: logger.With(zap.String("component", "journal")),
		queue:  make(chan models.Event, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		retry:  time.Second,
		abort:  abort,
		cancel: cancel,
	}
}

// Publish enqueues ev. It blocks while the buffer is full so that no event
// is dropped while the journal is open. Once Close has been called the event
// is logged and discarded.
func (j *Journal) Publish(ev models.Event) {
	select {
	case <-j.stop:
		j.discard(ev)
		return
	default:
	}

	select {
	case j.queue <- ev:
	case <-j.stop:
		j.discard(ev)
	}
}

func (j *Journal) discard(ev models.Event) {
	j.logger.Error("journal closed, event not persisted",
		zap.Uint64("seq", ev.Seq),
		zap.String("kind", string(ev.Kind)))
}

// Run writes queued events until Close is called and the queue is drained,
// ctx is cancelled, or Close gives up waiting. A failed insert is retried
// because a gap would make the journal unreplayable.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(j.abort, cancel)()

	for {
		select {
		case ev := <-j.queue:
			if !j.write(ctx, ev) {
				return
			}
		case <-j.stop:
			for {
				select {
				case ev := <-j.queue:
					if !j.write(ctx, ev) {
						return
					}
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// write appends ev, retrying until it succeeds or ctx is done
func (j *Journal) write(ctx context.Context, ev models.Event) bool {
	for {
		err := j.Append(ctx, ev)
		if err == nil {
			return true
		}
		j.logger.Error("failed to journal event",
			zap.Uint64("seq", ev.Seq),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))

		select {
		case <-ctx.Done():
			j.logger.Error("journal stopped with unwritten events",
				zap.Uint64("first_seq", ev.Seq),
				zap.Int("queued", len(j.queue)+1))
			return false
		case <-time.After(j.retry):
		}
	}
}

// Close stops accepting events and waits for Run to drain the queue. When
// ctx expires first, Run is stopped and the remaining events are lost. Run
// must have been started.
func (j *Journal) Close(ctx context.Context) error {
	j.closeOnce.Do(func() { close(j.stop) })

	select {
	case <-j.done:
		j.cancel()
		return nil
	case <-ctx.Done():
		j.cancel()
		<-j.done
		return fmt.Errorf("journal did not drain: %w", ctx.Err())
	}
}

// Append writes one event. Re-appending an already stored seq is a no-op.
func (j *Journal) Append(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = j.db.Pool.Exec(ctx,
		`INSERT INTO registry_events (seq, id, kind, file_id, actor, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (seq) DO NOTHING`,
		int64(ev.Seq), ev.ID, string(ev.Kind), int64(ev.FileID), ev.Actor, payload, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Load returns every journaled event with seq greater than after, in order
func (j *Journal) Load(ctx context.Context, after uint64) ([]models.Event, error) {
	rows, err := j.db.Pool.Query(ctx,
		"SELECT payload FROM registry_events WHERE seq > $1 ORDER BY seq",
		int64(after))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Replay feeds every journaled event after the target's current sequence
// into apply, in order. It returns the number of events applied.
func (j *Journal) Replay(ctx context.Context, after uint64, apply func(models.Event) error) (int, error) {
	events, err := j.Load(ctx, after)
	if err != nil {
		return 0, err
	}
	for i, ev := range events {
		if err := apply(ev); err != nil {
			return i, fmt.Errorf("failed to replay event %d (%s): %w", ev.Seq, ev.Kind, err)
		}
	}
	j.logger.Info("journal replayed", zap.Int("events", len(events)))
	return len(events), nil
}
