package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const (
	kb = 1024
	mb = 1024 * kb

	// DefaultMaxBodySize caps request bodies at 10MB.
	DefaultMaxBodySize = 10 * mb

	// SmallMaxBodySize caps request bodies at 1MB. Every endpoint this
	// service exposes takes small JSON payloads or webhook envelopes.
	SmallMaxBodySize = 1 * mb
)

const (
	// DefaultTimeout bounds request handling at 30 seconds.
	DefaultTimeout = 30 * time.Second

	// ShortTimeout is for endpoints that should answer quickly.
	ShortTimeout = 5 * time.Second
)

// MaxBodySize rejects requests whose body exceeds the given limit with
// 413. Without an argument the limit is DefaultMaxBodySize. Bodies are
// also wrapped with http.MaxBytesReader so chunked requests without a
// Content-Length are cut off at the same point.
func MaxBodySize(maxBytes ...int64) func(http.Handler) http.Handler {
	limit := int64(DefaultMaxBodySize)
	if len(maxBytes) > 0 {
		limit = maxBytes[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > limit {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// Timeout bounds request handling at the given duration, answering 503
// when the handler has not finished and has not started writing.
// Without an argument the bound is DefaultTimeout.
func Timeout(timeout ...time.Duration) func(http.Handler) http.Handler {
	d := DefaultTimeout
	if len(timeout) > 0 {
		d = timeout[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			done := make(chan struct{})
			tw := &timeoutWriter{
				ResponseWriter: w,
				done:           done,
			}

			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()

				// Once the handler has started writing the response is
				// already on the wire and can only end up truncated.
				if !tw.wroteHeader {
					w.WriteHeader(http.StatusServiceUnavailable)
					w.Write([]byte("Request timeout"))
				}
			}
		})
	}
}

// timeoutWriter guards the underlying writer so the handler goroutine
// and the timeout path never write concurrently.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
	done        chan struct{}
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.wroteHeader {
		return
	}

	select {
	case <-tw.done:
	default:
		tw.wroteHeader = true
		tw.ResponseWriter.WriteHeader(code)
	}
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	select {
	case <-tw.done:
		return 0, context.DeadlineExceeded
	default:
		if !tw.wroteHeader {
			tw.wroteHeader = true
			tw.ResponseWriter.WriteHeader(http.StatusOK)
		}
		return tw.ResponseWriter.Write(b)
	}
}
