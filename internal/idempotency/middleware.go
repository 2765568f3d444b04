// Package idempotency replays the first response of a retried POST that
// carries an Idempotency-Key header.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/ecohaat/internal/auth"
)

const (
	HeaderKey  = "Idempotency-Key"
	DefaultTTL = 24 * time.Hour
	maxKeyLen  = 255
)

type Store interface {
	Begin(ctx context.Context, key string) (token string, existing *Record, err error)
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware must run behind auth.Authenticator.Middleware; keys are scoped
// to the caller and route. Server errors release the key so the client can
// retry. If the store is unreachable the request runs without protection.
func Middleware(store Store, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(HeaderKey)
			if r.Method != http.MethodPost || header == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(header) > maxKeyLen {
				writeError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}

			caller, _ := auth.CallerFrom(r.Context())
			key := Key(caller.ID, r.URL.Path, header)

			token, existing, err := store.Begin(r.Context(), key)
			switch {
			case errors.Is(err, ErrInFlight):
				writeError(w, http.StatusConflict, err.Error())
				return
			case err != nil:
				logger.Error("idempotency store unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			case existing != nil:
				replay(w, existing)
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			ctx := context.WithoutCancel(r.Context())
			if rec.status == 0 || rec.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, key, token); err != nil {
					logger.Error("failed to release idempotency key", "error", err)
				}
				return
			}

			record := Record{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}
			if err := store.Complete(ctx, key, record, ttl); err != nil {
				logger.Error("failed to store idempotent response", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, rec *Record) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
