package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type newsFetchJob struct {
	Source string `json:"source"`
	Limit  int    `json:"limit"`
}

func setupQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestAddJobEnqueues(t *testing.T) {
	q, mr := setupQueue(t)

	err := q.AddJob(context.Background(), "news_fetch", newsFetchJob{Source: "moneycontrol", Limit: 5})
	require.NoError(t, err)

	items, err := mr.List("tradeveda:jobs:news_fetch")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var job newsFetchJob
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	assert.Equal(t, "moneycontrol", job.Source)
	assert.Equal(t, 5, job.Limit)
}

func TestAddJobRedisDownDrops(t *testing.T) {
	q, mr := setupQueue(t)
	mr.Close()

	err := q.AddJob(context.Background(), "news_fetch", newsFetchJob{Source: "moneycontrol"})
	assert.Error(t, err)
}

func TestWorkerDispatchesToHandler(t *testing.T) {
	q, _ := setupQueue(t)
	defer q.Stop()

	received := make(chan newsFetchJob, 1)
	q.Handle("news_fetch", func(_ context.Context, payload []byte) error {
		var job newsFetchJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return err
		}
		received <- job
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartWorker(ctx)

	require.NoError(t, q.AddJob(ctx, "news_fetch", newsFetchJob{Source: "economic_times", Limit: 3}))

	select {
	case job := <-received:
		assert.Equal(t, "economic_times", job.Source)
		assert.Equal(t, 3, job.Limit)
	case <-time.After(3 * time.Second):
		t.Fatal("job was not dispatched")
	}
}

func TestWorkerSurvivesHandlerError(t *testing.T) {
	q, _ := setupQueue(t)
	defer q.Stop()

	var mu sync.Mutex
	var seen []string
	q.Handle("news_fetch", func(_ context.Context, payload []byte) error {
		var job newsFetchJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, job.Source)
		mu.Unlock()
		if job.Source == "bad" {
			return assert.AnError
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartWorker(ctx)

	require.NoError(t, q.AddJob(ctx, "news_fetch", newsFetchJob{Source: "bad"}))
	require.NoError(t, q.AddJob(ctx, "news_fetch", newsFetchJob{Source: "good"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestUnregisteredQueueNotConsumed(t *testing.T) {
	q, mr := setupQueue(t)
	defer q.Stop()

	q.Handle("news_fetch", func(_ context.Context, _ []byte) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartWorker(ctx)

	require.NoError(t, q.AddJob(ctx, "other_job", newsFetchJob{Source: "x"}))

	// The unregistered queue keeps its payload.
	time.Sleep(100 * time.Millisecond)
	items, err := mr.List("tradeveda:jobs:other_job")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRepeatingJobEnqueues(t *testing.T) {
	q, _ := setupQueue(t)
	defer q.Stop()

	var count sync.WaitGroup
	count.Add(2)
	var once sync.Mutex
	fired := 0
	q.Handle("news_fetch", func(_ context.Context, _ []byte) error {
		once.Lock()
		defer once.Unlock()
		if fired < 2 {
			fired++
			count.Done()
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartWorker(ctx)
	q.AddRepeatingJob("news_fetch", newsFetchJob{Source: "moneycontrol"}, 30*time.Millisecond)

	done := make(chan struct{})
	go func() {
		count.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("repeating job did not fire twice")
	}
}

func TestStopDrains(t *testing.T) {
	q, _ := setupQueue(t)

	q.Handle("news_fetch", func(_ context.Context, _ []byte) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartWorker(ctx)
	q.AddRepeatingJob("news_fetch", newsFetchJob{}, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not drain workers")
	}
}
