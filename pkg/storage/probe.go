package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Probe defaults.
const (
	DefaultProbeTimeout  = 2 * time.Second
	DefaultCapacityTTL   = 30 * time.Second
	DefaultCapacityCache = 64
)

// ProbeOptions configures a Prober.
type ProbeOptions struct {
	// Timeout bounds every backend call. Zero uses DefaultProbeTimeout.
	Timeout time.Duration

	// CapacityTTL is how long free capacity readings are reused. Zero disables caching.
	CapacityTTL time.Duration

	// CapacityCacheSize caps the number of cached readings.
	CapacityCacheSize int

	// OnFailure, when set, is called for every failed, panicking or timed out query.
	OnFailure func(storageID, operation string, err error)
}

// DefaultProbeOptions returns the default probe configuration.
func DefaultProbeOptions() ProbeOptions {
	return ProbeOptions{
		Timeout:           DefaultProbeTimeout,
		CapacityTTL:       DefaultCapacityTTL,
		CapacityCacheSize: DefaultCapacityCache,
	}
}

// Prober runs bounded backend queries. A query that fails, panics or exceeds
// the timeout is reported as failed and logged; it never aborts the caller.
type Prober struct {
	timeout   time.Duration
	capacity  *expirable.LRU[string, int64]
	onFailure func(storageID, operation string, err error)
	logger    zerolog.Logger
}

// NewProber creates a prober.
func NewProber(opts ProbeOptions, logger zerolog.Logger) *Prober {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	p := &Prober{
		timeout:   opts.Timeout,
		onFailure: opts.OnFailure,
		logger:    logger.With().Str("component", "storage-probe").Logger(),
	}
	if opts.CapacityTTL > 0 {
		size := opts.CapacityCacheSize
		if size <= 0 {
			size = DefaultCapacityCache
		}
		p.capacity = expirable.NewLRU[string, int64](size, nil, opts.CapacityTTL)
	}
	return p
}

type probeResult[T any] struct {
	value T
	err   error
}

// run executes fn in its own goroutine so a backend that ignores ctx cannot
// stall the caller past the timeout.
func run[T any](ctx context.Context, p *Prober, id, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan probeResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- probeResult[T]{value: zero, err: fmt.Errorf("backend panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- probeResult[T]{value: v, err: err}
	}()

	var res probeResult[T]
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("%s timed out: %w", op, ctx.Err())
	}
	if res.err != nil {
		p.logger.Warn().
			Err(res.err).
			Str("storage_id", id).
			Str("operation", op).
			Msg("Storage query failed, skipping backend")
		if p.onFailure != nil {
			p.onFailure(id, op, res.err)
		}
	}
	return res.value, res.err
}

// ContentObject queries the content object at path.
func (p *Prober) ContentObject(ctx context.Context, e Entry, path string) (ContentObject, bool) {
	type lookup struct {
		obj   ContentObject
		found bool
	}
	res, err := run(ctx, p, e.ID, "content_object", func(ctx context.Context) (lookup, error) {
		obj, found, err := e.Backend.ContentObjectAt(ctx, path)
		return lookup{obj: obj, found: found}, err
	})
	if err != nil {
		return ContentObject{}, false
	}
	return res.obj, res.found
}

// FreeCapacity returns the backend's free bytes, using a cached reading when fresh.
func (p *Prober) FreeCapacity(ctx context.Context, e Entry) (int64, bool) {
	if p.capacity != nil {
		if v, ok := p.capacity.Get(e.ID); ok {
			return v, true
		}
	}
	v, err := run(ctx, p, e.ID, "free_capacity", e.Backend.FreeCapacity)
	if err != nil {
		return 0, false
	}
	if p.capacity != nil {
		p.capacity.Add(e.ID, v)
	}
	return v, true
}

// Reachable reports whether the backend answers within the timeout.
func (p *Prober) Reachable(ctx context.Context, e Entry) bool {
	ok, err := run(ctx, p, e.ID, "reachable", func(ctx context.Context) (bool, error) {
		return e.Backend.Reachable(ctx), nil
	})
	return err == nil && ok
}

// Invalidate drops the cached capacity reading of id, or all readings when id is empty.
func (p *Prober) Invalidate(id string) {
	if p.capacity == nil {
		return
	}
	if id == "" {
		p.capacity.Purge()
		return
	}
	p.capacity.Remove(id)
}
