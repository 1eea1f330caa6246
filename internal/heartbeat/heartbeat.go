// Package heartbeat records that a worker is actively running an import, so
// an entry stuck in processing can be told apart from one that is still
// making progress.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Monitor writes and reads liveness marks keyed by queue entry id.
type Monitor interface {
	Beat(ctx context.Context, importID string) error
	Clear(ctx context.Context, importID string) error
	Alive(ctx context.Context, importID string) (bool, error)
	// Interval is how often a running import should beat.
	Interval() time.Duration
}

const keyPrefix = "import_heartbeat:"

// Redis stores marks as expiring keys.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a Redis monitor whose marks expire after ttl.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Beat(ctx context.Context, importID string) error {
	return r.client.Set(ctx, keyPrefix+importID, time.Now().UTC().Format(time.RFC3339), r.ttl).Err()
}

func (r *Redis) Clear(ctx context.Context, importID string) error {
	return r.client.Del(ctx, keyPrefix+importID).Err()
}

func (r *Redis) Alive(ctx context.Context, importID string) (bool, error) {
	_, err := r.client.Get(ctx, keyPrefix+importID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read heartbeat: %w", err)
	}
	return true, nil
}

func (r *Redis) Interval() time.Duration {
	return r.ttl / 3
}

// Local keeps marks in process memory. It suits the CLI and tests, where the
// worker and the diagnosis share one process.
type Local struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	beats map[string]time.Time
}

// NewLocal returns a Local monitor whose marks expire after ttl.
func NewLocal(ttl time.Duration) *Local {
	return &Local{ttl: ttl, now: time.Now, beats: make(map[string]time.Time)}
}

// SetClock replaces the clock used to stamp and expire marks.
func (l *Local) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Local) Beat(_ context.Context, importID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.beats[importID] = l.now()
	return nil
}

func (l *Local) Clear(_ context.Context, importID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.beats, importID)
	return nil
}

func (l *Local) Alive(_ context.Context, importID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.beats[importID]
	return ok && l.now().Sub(at) < l.ttl, nil
}

func (l *Local) Interval() time.Duration {
	return l.ttl / 3
}

// Keep beats for importID every monitor interval until the returned stop
// function is called. Beat failures are passed to onErr.
func Keep(ctx context.Context, m Monitor, importID string, onErr func(error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	beat := func() {
		if err := m.Beat(ctx, importID); err != nil && ctx.Err() == nil && onErr != nil {
			onErr(err)
		}
	}
	beat()
	// The goroutine owns the ticker; closing done tells stop that it has
	// returned, so no Beat can land after Clear.
	go func() {
		defer close(done)
		interval := m.Interval()
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				beat()
			}
		}
	}()
	return func() {
		cancel()
		<-done
		if err := m.Clear(context.WithoutCancel(ctx), importID); err != nil && onErr != nil {
			onErr(err)
		}
	}
}
