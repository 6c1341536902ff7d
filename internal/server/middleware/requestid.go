package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

type contextKey string

// RequestIDKey is the context key for the per-request annotations.
const RequestIDKey contextKey = "request_info"

// RequestInfo collects what the admission gates learn about a request so
// the access log can report it. Gates further down the chain fill it in
// after the logger has already captured the pointer.
type RequestInfo struct {
	mu      sync.Mutex
	ID      string
	Class   string
	Subject string
}

func (i *RequestInfo) snapshot() (id, class, subject string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ID, i.Class, i.Subject
}

// RequestID is an HTTP middleware that assigns a unique UUID v7 to each
// request. If the client already provides an X-Request-ID header, that
// value is used instead. The ID is set on both the response header and
// the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), RequestIDKey, &RequestInfo{ID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context. Returns an empty
// string if no request ID is present.
func GetRequestID(ctx context.Context) string {
	if info := requestInfo(ctx); info != nil {
		id, _, _ := info.snapshot()
		return id
	}
	return ""
}

func requestInfo(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(RequestIDKey).(*RequestInfo)
	return info
}

func annotate(ctx context.Context, fn func(*RequestInfo)) {
	if info := requestInfo(ctx); info != nil {
		info.mu.Lock()
		fn(info)
		info.mu.Unlock()
	}
}
