// Package jobs is a small Redis-backed job queue. Producers LPUSH JSON
// payloads onto per-name lists, workers BRPOP and dispatch to registered
// handlers. Repeating jobs re-enqueue themselves on a ticker. The queue
// is best-effort: when Redis is unavailable an enqueue is logged and
// dropped, never blocking the caller.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix   = "tradeveda:jobs:"
	popTimeout  = 2 * time.Second
	errBackoff  = time.Second
)

// Handler processes one dequeued payload
type Handler func(ctx context.Context, payload []byte) error

// Queue is the producer and worker surface over one Redis connection
type Queue struct {
	client *redis.Client

	mu       sync.Mutex
	handlers map[string]Handler

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// New creates a queue over an existing Redis client
func New(client *redis.Client) *Queue {
	return &Queue{
		client:   client,
		handlers: make(map[string]Handler),
		stop:     make(chan struct{}),
	}
}

func queueKey(name string) string {
	return keyPrefix + name
}

// Handle registers the handler for a job name. Must be called before
// StartWorker; only registered queues are consumed.
func (q *Queue) Handle(name string, fn Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = fn
}

// AddJob enqueues one job. The payload is JSON-marshalled. Enqueue
// failures are logged and the job is dropped.
func (q *Queue) AddJob(ctx context.Context, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if err := q.client.LPush(ctx, queueKey(name), data).Err(); err != nil {
		log.Warn().Err(err).Str("job", name).Msg("Failed to enqueue job, dropping")
		return fmt.Errorf("failed to enqueue job %s: %w", name, err)
	}
	return nil
}

// AddRepeatingJob enqueues the payload every interval until Stop. The
// first enqueue happens after one interval.
func (q *Queue) AddRepeatingJob(name string, payload interface{}, interval time.Duration) {
	if interval <= 0 {
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = q.AddJob(ctx, name, payload)
				cancel()
			}
		}
	}()

	log.Info().Str("job", name).Dur("interval", interval).Msg("Repeating job armed")
}

// StartWorker spawns one consumer goroutine per registered queue. It
// returns immediately; workers drain until ctx is done or Stop is called.
func (q *Queue) StartWorker(ctx context.Context) {
	q.mu.Lock()
	names := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		names = append(names, name)
	}
	q.mu.Unlock()

	for _, name := range names {
		q.wg.Add(1)
		go q.consume(ctx, name)
	}

	log.Info().Int("queues", len(names)).Msg("Job workers started")
}

func (q *Queue) consume(ctx context.Context, name string) {
	defer q.wg.Done()

	key := queueKey(name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		default:
		}

		res, err := q.client.BRPop(ctx, popTimeout, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("job", name).Msg("Job dequeue failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			case <-time.After(errBackoff):
			}
			continue
		}

		// BRPOP returns [key, value]
		if len(res) != 2 {
			continue
		}
		q.dispatch(ctx, name, []byte(res[1]))
	}
}

func (q *Queue) dispatch(ctx context.Context, name string, payload []byte) {
	q.mu.Lock()
	fn := q.handlers[name]
	q.mu.Unlock()
	if fn == nil {
		return
	}

	if err := fn(ctx, payload); err != nil {
		log.Error().Err(err).Str("job", name).Msg("Job handler failed")
	}
}

// Stop halts repeating producers and workers and waits for them to drain
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stop) })
	q.wg.Wait()
}
