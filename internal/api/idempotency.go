package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/honeynil/MoneyMitra/internal/infrastructure/auth"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/observability"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/redis"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "X-Idempotency-Replayed"

	pendingMarker     = "pending"
	maxIdempotencyKey = 255
)

var errIdempotencyUnavailable = errors.New("idempotency store unavailable, request not processed")

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyMiddleware replays the stored response of a POST that carries an
// Idempotency-Key already seen for the same caller and path. Keys are reserved
// with SETNX before the handler runs. Only responses that leave balances
// untouched (409, 502, 503) release the key; every other response, including
// the 500 of a failed compensation, is stored and replayed. When Redis is
// unreachable the request is refused.
func IdempotencyMiddleware(client redis.RedisClient, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %s is too long", pkgerrors.ErrInvalidInput, IdempotencyKeyHeader))
				return
			}
			callerID, ok := auth.CallerFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, pkgerrors.ErrUnauthorized)
				return
			}

			ctx := r.Context()
			logger := observability.Logger(ctx)
			redisKey := idempotencyKey(callerID.String(), r.URL.Path, key)

			stored, err := client.Get(ctx, redisKey)
			switch {
			case err == nil:
				replay(w, stored)
				return
			case !errors.Is(err, redis.ErrKeyNotFound):
				logger.Error("idempotency lookup failed", "key", redisKey, "error", err)
				writeError(w, http.StatusServiceUnavailable, errIdempotencyUnavailable)
				return
			}

			reserved, err := client.SetNX(ctx, redisKey, pendingMarker, ttl)
			if err != nil {
				logger.Error("idempotency reservation failed", "key", redisKey, "error", err)
				writeError(w, http.StatusServiceUnavailable, errIdempotencyUnavailable)
				return
			}
			if !reserved {
				writeError(w, http.StatusConflict, pkgerrors.ErrRequestInProgress)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w, capture: true}
			next.ServeHTTP(recorder, r)

			bg := context.WithoutCancel(ctx)
			status := recorder.statusCode()
			if releasable(status) {
				if err := client.Del(bg, redisKey); err != nil {
					logger.Error("failed to release idempotency key", "key", redisKey, "error", err)
				}
				return
			}

			data, err := json.Marshal(storedResponse{
				Status:      status,
				ContentType: recorder.Header().Get("Content-Type"),
				Body:        recorder.body.Bytes(),
			})
			if err == nil {
				err = client.Set(bg, redisKey, data, ttl)
			}
			if err != nil {
				logger.Error("failed to store idempotent response", "key", redisKey, "error", err)
			}
		})
	}
}

func idempotencyKey(callerID, path, key string) string {
	return fmt.Sprintf("idempotency:%s:%s:%s", callerID, path, key)
}

// releasable reports responses after which the request may run again.
// A failed compensation answers 500 with money still moved, so 500 is kept.
func releasable(status int) bool {
	switch status {
	case http.StatusConflict, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true
	}
	return false
}

func replay(w http.ResponseWriter, stored string) {
	if stored == pendingMarker {
		writeError(w, http.StatusConflict, pkgerrors.ErrRequestInProgress)
		return
	}
	var resp storedResponse
	if err := json.Unmarshal([]byte(stored), &resp); err != nil {
		writeError(w, http.StatusServiceUnavailable, errIdempotencyUnavailable)
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
