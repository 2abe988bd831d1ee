package query

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group shares in-flight fetches between queries. Queries using the same
// Group that ask for a key while a fetch for it is running wait for that
// fetch instead of issuing their own. A shared fetch is cancelled once every
// waiting caller has left.
type Group struct {
	sf singleflight.Group

	mu      sync.Mutex
	seq     uint64
	flights map[string]*flight
}

type flight struct {
	name    string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int

	once sync.Once
	val  any
	err  error
}

// NewGroup returns an empty Group.
func NewGroup() *Group {
	return &Group{flights: make(map[string]*flight)}
}

// Do runs fn for key or joins the fetch already running for it. fn gets a
// context carrying the values of the first caller's ctx; it is cancelled
// when the last waiting caller's ctx is done. Callers sharing a key must
// fetch the same data. shared reports whether the result went to more than
// one caller.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (v any, shared bool, err error) {
	f := g.join(ctx, key)
	defer g.leave(key, f)

	ch := g.sf.DoChan(f.name, func() (any, error) {
		// A late joiner may start a second execution after the first has
		// returned; it gets the stored result.
		f.once.Do(func() {
			f.val, f.err = fn(f.ctx)
			g.finish(key, f)
		})
		return f.val, f.err
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Forget makes the next Do for key start a new fetch. Callers already
// waiting keep waiting for the running one.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.flights, key)
}

func (g *Group) join(ctx context.Context, key string) *flight {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.flights[key]
	if !ok {
		g.seq++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{
			name:   key + "#" + strconv.FormatUint(g.seq, 10),
			ctx:    fctx,
			cancel: cancel,
		}
		g.flights[key] = f
	}
	f.waiters++
	return f
}

func (g *Group) leave(key string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	if g.flights[key] == f {
		delete(g.flights, key)
	}
	f.cancel()
}

// finish detaches a completed flight so later callers fetch fresh data.
func (g *Group) finish(key string, f *flight) {
	g.mu.Lock()
	if g.flights[key] == f {
		delete(g.flights, key)
	}
	g.mu.Unlock()
	f.cancel()
}

// Waiting returns the number of callers waiting on the running fetch for
// key.
func (g *Group) Waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.flights[key]; ok {
		return f.waiters
	}
	return 0
}
