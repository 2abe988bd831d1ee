// Package query implements a small client-side query cache: one Query tracks
// the current key of a remote read, fetches on key change, keeps settled
// results per key and guarantees that only the latest key's response is
// published.
//
// Concurrency model: every Set or Refetch starts a new generation. The fetch
// for a superseded generation stops waiting and its result never becomes the
// current result. Queries sharing a Group join each other's fetches for the
// same key; the remote call is cancelled when no query waits for it.
package query

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// DefaultCacheSize is the number of keys whose results a Query keeps.
const DefaultCacheSize = 20

// Key identifies a query: the operation name plus its parameters.
type Key struct {
	Op     string
	Params string
}

// NewKey builds a key from an operation name and its ordered parameters.
func NewKey(op string, params ...string) Key {
	return Key{Op: op, Params: strings.Join(params, "&")}
}

func (k Key) String() string {
	if k.Params == "" {
		return k.Op
	}
	return k.Op + "?" + k.Params
}

// Status is the lifecycle state of the current result.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// Fetcher performs the remote read for the current key.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Result is a snapshot of a query.
type Result[T any] struct {
	Key       Key
	Status    Status
	Data      T
	HasData   bool
	Err       error
	UpdatedAt time.Time
}

// Loading reports whether a fetch for the current key is in flight.
func (r Result[T]) Loading() bool { return r.Status == StatusLoading }

// Options configures a Query.
type Options struct {
	// StaleTime is how long a settled result is served from cache without
	// a network call. Zero means always refetch on key change.
	StaleTime time.Duration
	// Timeout bounds a single fetch. Zero means no timeout.
	Timeout time.Duration
	// CacheSize bounds the per-key cache; the least recently stored keys
	// are evicted first. Zero means DefaultCacheSize.
	CacheSize int
	// Group shares fetches with other queries. Nil gives the query a
	// private group.
	Group *Group

	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

type entry[T any] struct {
	data      T
	updatedAt time.Time
}

// Query is a single logical remote read whose key changes over time.
type Query[T any] struct {
	name   string
	opts   Options
	base   context.Context
	lg     *zap.Logger
	tracer trace.Tracer

	fetches  metric.Int64Counter
	dropped  metric.Int64Counter
	shared   metric.Int64Counter
	duration metric.Float64Histogram

	group *Group

	mu      sync.Mutex
	gen     uint64
	fetch   Fetcher[T]
	cancel  context.CancelFunc
	settled chan struct{}
	current Result[T]
	cache   map[Key]entry[T]
	order   []Key
	closed  bool
}

// New creates a Query. The base context bounds the lifetime of every fetch;
// cancelling it is equivalent to Close.
func New[T any](base context.Context, name string, opts Options) *Query[T] {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Group == nil {
		opts.Group = NewGroup()
	}

	meter := opts.MeterProvider.Meter("github.com/xenking/dyson-admin/internal/query")
	fetches, _ := meter.Int64Counter("query.fetches", metric.WithDescription("Remote fetches issued"))
	dropped, _ := meter.Int64Counter("query.dropped", metric.WithDescription("Fetch results superseded by a newer key"))
	shared, _ := meter.Int64Counter("query.shared", metric.WithDescription("Fetch results delivered to more than one query"))
	duration, _ := meter.Float64Histogram("query.fetch.duration", metric.WithUnit("s"))

	settled := make(chan struct{})
	close(settled)

	return &Query[T]{
		name:     name,
		opts:     opts,
		base:     base,
		lg:       opts.Logger.With(zap.String("query", name)),
		tracer:   opts.TracerProvider.Tracer("github.com/xenking/dyson-admin/internal/query"),
		fetches:  fetches,
		dropped:  dropped,
		shared:   shared,
		duration: duration,
		group:    opts.Group,
		settled:  settled,
		cache:    make(map[Key]entry[T]),
	}
}

// Set points the query at key. When the key differs from the current one,
// exactly one fetch is issued for it (unless a fresh cached result exists
// and StaleTime allows serving it) and any in-flight fetch for the previous
// key is cancelled. Setting the current key again is a no-op.
func (q *Query[T]) Set(key Key, fetch Fetcher[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if q.current.Status != StatusIdle && q.current.Key == key {
		return
	}
	q.fetch = fetch

	if e, ok := q.cache[key]; ok && q.opts.StaleTime > 0 && time.Since(e.updatedAt) < q.opts.StaleTime {
		q.supersedeLocked()
		q.current = Result[T]{
			Key:       key,
			Status:    StatusSuccess,
			Data:      e.data,
			HasData:   true,
			UpdatedAt: e.updatedAt,
		}
		return
	}
	q.startLocked(key)
}

// Refetch re-issues the fetch for the current key and waits for it to
// settle. It returns the fetch error, if any.
func (q *Query[T]) Refetch(ctx context.Context) (Result[T], error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Result[T]{}, errors.New("query closed")
	}
	if q.fetch == nil {
		q.mu.Unlock()
		return Result[T]{}, errors.New("query has no key")
	}
	q.startLocked(q.current.Key)
	q.mu.Unlock()

	res := q.Wait(ctx)
	if res.Loading() {
		return res, ctx.Err()
	}
	return res, res.Err
}

// Wait blocks until the current generation settles or ctx is done and
// returns the snapshot at that moment.
func (q *Query[T]) Wait(ctx context.Context) Result[T] {
	for {
		q.mu.Lock()
		settled := q.settled
		q.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return q.Snapshot()
		}

		// A newer generation may have started while waiting.
		q.mu.Lock()
		if q.settled == settled {
			res := q.current
			q.mu.Unlock()
			return res
		}
		q.mu.Unlock()
	}
}

// Snapshot returns the current result without blocking.
func (q *Query[T]) Snapshot() Result[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Close cancels any in-flight fetch. Further Set calls are ignored.
func (q *Query[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.supersedeLocked()
}

// supersedeLocked cancels the in-flight generation and releases waiters.
func (q *Query[T]) supersedeLocked() {
	q.gen++
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	select {
	case <-q.settled:
	default:
		close(q.settled)
	}
}

func (q *Query[T]) startLocked(key Key) {
	refetch := q.current.Status != StatusIdle && q.current.Key == key
	q.supersedeLocked()
	if refetch {
		// A refetch must not be answered by a fetch started before it.
		q.group.Forget(key.String())
	}

	gen := q.gen
	ctx, cancel := context.WithCancel(q.base)
	q.cancel = cancel
	q.settled = make(chan struct{})

	next := Result[T]{Key: key, Status: StatusLoading}
	if e, ok := q.cache[key]; ok {
		next.Data, next.HasData, next.UpdatedAt = e.data, true, e.updatedAt
	}
	q.current = next

	go q.run(ctx, cancel, gen, key, q.fetch)
}

func (q *Query[T]) run(ctx context.Context, cancel context.CancelFunc, gen uint64, key Key, fetch Fetcher[T]) {
	defer cancel()

	attrs := metric.WithAttributes(attribute.String("query", q.name))
	q.fetches.Add(ctx, 1, attrs)
	start := time.Now()

	v, shared, err := q.group.Do(ctx, key.String(), func(ctx context.Context) (any, error) {
		if q.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, q.opts.Timeout)
			defer cancel()
		}
		ctx, span := q.tracer.Start(ctx, "query.fetch", trace.WithAttributes(
			attribute.String("query.name", q.name),
			attribute.String("query.key", key.String()),
		))
		defer span.End()

		v, err := fetch(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return v, err
	})
	q.duration.Record(context.Background(), time.Since(start).Seconds(), attrs)
	if shared {
		q.shared.Add(context.Background(), 1, attrs)
	}

	var data T
	if err == nil {
		var ok bool
		if data, ok = v.(T); !ok {
			err = errors.Errorf("unexpected %T result for %s", v, key)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	if err == nil {
		q.storeLocked(key, data, now)
	}
	if gen != q.gen {
		q.dropped.Add(context.Background(), 1, attrs)
		q.lg.Debug("Dropping superseded result", zap.Stringer("key", key), zap.Error(err))
		return
	}

	q.cancel = nil
	if err != nil {
		q.lg.Warn("Fetch failed", zap.Stringer("key", key), zap.Error(err))
		q.current.Status = StatusError
		q.current.Err = err
	} else {
		q.current = Result[T]{
			Key:       key,
			Status:    StatusSuccess,
			Data:      data,
			HasData:   true,
			UpdatedAt: now,
		}
	}
	close(q.settled)
}

// storeLocked caches a settled result, evicting the oldest keys beyond
// CacheSize.
func (q *Query[T]) storeLocked(key Key, data T, at time.Time) {
	if _, ok := q.cache[key]; ok {
		q.order = slices.DeleteFunc(q.order, func(k Key) bool { return k == key })
	}
	q.cache[key] = entry[T]{data: data, updatedAt: at}
	q.order = append(q.order, key)
	for len(q.order) > q.opts.CacheSize {
		delete(q.cache, q.order[0])
		q.order = q.order[1:]
	}
}
