package httpmiddleware

import (
	"compress/gzip"
	"net/http"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
)

// gzipBlockSize keeps pgzip blocks small: rendered pages are tens of KiB.
const (
	gzipBlockSize = 64 << 10
	gzipBlocks    = 4
)

// Gzip compresses responses for clients that accept gzip. Responses without
// a body are passed through untouched.
func Gzip(level int) (Middleware, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	// Fail fast on an invalid level instead of on the first request.
	probe, err := pgzip.NewWriterLevel(nil, level)
	if err != nil {
		return nil, errors.Wrap(err, "gzip level")
	}
	if err := probe.SetConcurrency(gzipBlockSize, gzipBlocks); err != nil {
		return nil, errors.Wrap(err, "gzip concurrency")
	}

	pool := &sync.Pool{New: func() any {
		w, _ := pgzip.NewWriterLevel(nil, level)
		return w
	}}
	pool.Put(probe)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodHead || !acceptsGzip(r) {
				next.ServeHTTP(w, r)
				return
			}
			gw := &gzipWriter{ResponseWriter: w, pool: pool}
			next.ServeHTTP(gw, r)
			if err := gw.finish(); err != nil {
				zctx.From(r.Context()).Debug("Gzip finish failed", zap.Error(err))
			}
		})
	}, nil
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(name, "gzip") {
			return true
		}
	}
	return false
}

// gzipWriter defers the header until the first body write so that bodiless
// responses (redirects, 204, 304) are not encoded.
type gzipWriter struct {
	http.ResponseWriter
	pool *sync.Pool

	status  int
	started bool
	gz      *pgzip.Writer
}

func (g *gzipWriter) WriteHeader(code int) {
	if g.started || g.status != 0 {
		return
	}
	g.status = code
}

func (g *gzipWriter) Write(p []byte) (int, error) {
	if !g.started {
		g.start()
	}
	if g.gz == nil {
		return g.ResponseWriter.Write(p)
	}
	return g.gz.Write(p)
}

func (g *gzipWriter) start() {
	g.started = true
	h := g.Header()
	h.Add("Vary", "Accept-Encoding")
	if h.Get("Content-Encoding") == "" {
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		g.gz = g.pool.Get().(*pgzip.Writer)
		// Reset restores the default block layout.
		g.gz.Reset(g.ResponseWriter)
		_ = g.gz.SetConcurrency(gzipBlockSize, gzipBlocks)
	}
	if g.status == 0 {
		g.status = http.StatusOK
	}
	g.ResponseWriter.WriteHeader(g.status)
}

func (g *gzipWriter) finish() error {
	if !g.started {
		if g.status != 0 {
			g.ResponseWriter.WriteHeader(g.status)
		}
		return nil
	}
	if g.gz == nil {
		return nil
	}
	err := g.gz.Close()
	g.pool.Put(g.gz)
	g.gz = nil
	return err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (g *gzipWriter) Unwrap() http.ResponseWriter { return g.ResponseWriter }
