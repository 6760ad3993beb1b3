package audit

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Tracker collects the shards touched while serving one request
type Tracker struct {
	mu  sync.Mutex
	set map[int]struct{}
}

func (t *Tracker) add(idx int) {
	t.mu.Lock()
	if t.set == nil {
		t.set = make(map[int]struct{})
	}
	t.set[idx] = struct{}{}
	t.mu.Unlock()
}

func (t *Tracker) shards() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.set))
	for idx := range t.set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

type trackerKey struct{}

// WithTracker attaches a fresh tracker to ctx
func WithTracker(ctx context.Context) (context.Context, *Tracker) {
	t := &Tracker{}
	return context.WithValue(ctx, trackerKey{}, t), t
}

func trackerFrom(ctx context.Context) *Tracker {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}

// Drainer waits for queued entries to be written
type Drainer interface {
	Drain(ctx context.Context, actorKey string) error
	DrainTracked(ctx context.Context, t *Tracker) error
}

// DrainMiddleware holds the response of a request until every entry
// recorded while serving it, and every earlier entry of the calling actor,
// is written. A drain that exceeds timeout is logged and the response is
// released.
func DrainMiddleware(d Drainer, timeout time.Duration, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, tracker := WithTracker(r.Context())
			dw := &drainWriter{ResponseWriter: w}
			dw.drain = func() {
				dctx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				if err := d.DrainTracked(dctx, tracker); err != nil {
					logger.WithError(err).Warn("audit drain did not complete")
					return
				}
				if id, ok := contextkeys.GetIdentity(ctx); ok {
					if err := d.Drain(dctx, id.ActorKey()); err != nil {
						logger.WithError(err).WithField("actor", id.ActorKey()).Warn("audit drain did not complete")
					}
				}
			}

			next.ServeHTTP(dw, r.WithContext(ctx))
			dw.finish()
		})
	}
}

// drainWriter runs drain once before the first byte of the response
type drainWriter struct {
	http.ResponseWriter
	drain   func()
	once    sync.Once
	written bool
}

func (w *drainWriter) finish() {
	w.once.Do(w.drain)
}

func (w *drainWriter) WriteHeader(code int) {
	w.finish()
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *drainWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *drainWriter) Flush() {
	w.finish()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *drainWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.finish()
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
