// ABOUTME: Hybrid Lamport clock and persisted device identity
// ABOUTME: Stamps outgoing operations with strictly increasing per-device values

package clock

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whisperlog/whisperlog/internal/store"
)

// persistTimeout bounds the background counter write so a wedged database
// cannot pile up goroutines.
const persistTimeout = 5 * time.Second

// KV is the key-value slice of the store the clock needs
type KV interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
}

// DeviceClock combines a persisted random device identity with a hybrid
// Lamport counter. Next returns max(counter, wallClockMillis)+1, so values are
// strictly increasing per device even across wall-clock resets and bursts of
// calls within the same millisecond.
//
// Counter persistence is best-effort: a coalescing background writer saves the
// latest value, and a failed write never blocks or fails the caller. Close
// performs one final synchronous persist.
type DeviceClock struct {
	kv     KV
	logger *slog.Logger

	mu       sync.Mutex
	counter  int64
	deviceID string

	now func() time.Time

	persistCh chan struct{}
	done      chan struct{}
	stopped   sync.WaitGroup
}

// Load materializes the device identity and lamport counter from KV,
// generating both on first run.
func Load(ctx context.Context, kv KV) (*DeviceClock, error) {
	logger := slog.Default().With("component", "clock")

	deviceID, err := kv.GetValue(ctx, store.KeyDeviceID)
	if err == store.ErrNotFound {
		deviceID = uuid.New().String()
		if err := kv.SetValue(ctx, store.KeyDeviceID, deviceID); err != nil {
			return nil, fmt.Errorf("persisting device id: %w", err)
		}
		logger.Info("generated device identity", "device_id", deviceID)
	} else if err != nil {
		return nil, fmt.Errorf("loading device id: %w", err)
	}

	var counter int64
	raw, err := kv.GetValue(ctx, store.KeyLamport)
	if err == nil {
		counter, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing persisted lamport %q: %w", raw, err)
		}
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("loading lamport counter: %w", err)
	}

	c := &DeviceClock{
		kv:        kv,
		logger:    logger,
		counter:   counter,
		deviceID:  deviceID,
		now:       time.Now,
		persistCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	c.stopped.Add(1)
	go c.persistLoop()

	return c, nil
}

// DeviceID returns the stable random identity of this install
func (c *DeviceClock) DeviceID() string {
	return c.deviceID
}

// Next returns the next lamport value and schedules a best-effort persist.
// The returned values are strictly increasing for the lifetime of the device,
// not merely this process: the counter is seeded from KV and hybridized with
// wall-clock milliseconds.
func (c *DeviceClock) Next() int64 {
	c.mu.Lock()
	v := c.counter
	if wall := c.now().UnixMilli(); wall > v {
		v = wall
	}
	v++
	c.counter = v
	c.mu.Unlock()

	// Coalescing signal; the persist loop always writes the latest value
	select {
	case c.persistCh <- struct{}{}:
	default:
	}

	return v
}

// Current returns the counter without advancing it
func (c *DeviceClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// persistLoop serializes counter writes so a stale value can never overwrite
// a newer one
func (c *DeviceClock) persistLoop() {
	defer c.stopped.Done()
	for {
		select {
		case <-c.done:
			c.persist()
			return
		case <-c.persistCh:
			c.persist()
		}
	}
}

// persist writes the current counter value. Errors are logged and dropped;
// stamping must never block on persistence latency.
func (c *DeviceClock) persist() {
	c.mu.Lock()
	v := c.counter
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := c.kv.SetValue(ctx, store.KeyLamport, strconv.FormatInt(v, 10)); err != nil {
		c.logger.Debug("lamport persist failed", "error", err)
	}
}

// Close stops the background writer after one final synchronous persist
func (c *DeviceClock) Close() {
	close(c.done)
	c.stopped.Wait()
}
