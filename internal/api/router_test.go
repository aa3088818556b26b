package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/auth"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/kafka"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/observability"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/redis"
	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
	"github.com/honeynil/MoneyMitra/internal/repository"
	"github.com/honeynil/MoneyMitra/internal/repository/memory"
	service "github.com/honeynil/MoneyMitra/internal/services"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

type testServer struct {
	router http.Handler
	store  *memory.Store
	redis  redis.RedisClient
}

type serverOptions struct {
	redis                   redis.RedisClient
	wrapProfiles            func(repository.ProfileRepository) repository.ProfileRepository
	wrapTransactions        func(repository.TransactionRepository) repository.TransactionRepository
	compensationMaxAttempts int
}

func newTestServer(t *testing.T, redisClient redis.RedisClient) *testServer {
	t.Helper()
	return newTestServerWith(t, serverOptions{redis: redisClient})
}

func newTestServerWith(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	observability.InitMetrics()

	verifier, err := auth.NewVerifier(testSecret, "authenticated")
	require.NoError(t, err)

	store := memory.NewStore()
	var profiles repository.ProfileRepository = store.Profiles()
	var transactions repository.TransactionRepository = store.Transactions()
	if opts.wrapProfiles != nil {
		profiles = opts.wrapProfiles(profiles)
	}
	if opts.wrapTransactions != nil {
		transactions = opts.wrapTransactions(transactions)
	}

	cache := redis.NewMemoryClient()
	redisClient := opts.redis
	if redisClient == nil {
		redisClient = cache
	}
	ledger := service.NewLedgerService(profiles, transactions, cache, kafka.NopProducer{}, service.LedgerConfig{
		StartingBalance:         money.FromRupees(100),
		RetryInterval:           time.Millisecond,
		CompensationMaxAttempts: opts.compensationMaxAttempts,
	})
	advice := service.NewAdviceService(profiles, transactions, nil)

	return &testServer{
		router: SetupRouter(Deps{
			Ledger:         ledger,
			Advice:         advice,
			Verifier:       verifier,
			Redis:          redisClient,
			IdempotencyTTL: time.Hour,
		}),
		store: store,
		redis: redisClient,
	}
}

func token(t *testing.T, id uuid.UUID) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   id.String(),
		Audience:  jwt.ClaimStrings{"authenticated"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, caller uuid.UUID, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+token(t, caller))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) signup(t *testing.T, phone string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	rec := s.do(t, http.MethodPost, "/api/profile", id, `{"phone":"`+phone+`"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return id
}

func TestRouter_PublicRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/healthz", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = s.do(t, http.MethodGet, "/healthz", uuid.Nil, "", map[string]string{requestIDHeader: "req-42"})
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))

	rec = s.do(t, http.MethodGet, "/metrics", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRouter_RequiresToken(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/balance", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/balance", uuid.Nil, "", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_TransferFlow(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "9876543210")
	bob := s.signup(t, "+91 91234 56789")

	rec := s.do(t, http.MethodPost, "/api/transfer", alice,
		`{"receiverPhone":"9123456789","amount":30.5,"category":"Food","description":"lunch"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/balance", bob, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"balance":130.50}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/transfer", alice, `{"receiverPhone":"9123456789","amount":1000}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/transactions?limit=5", alice, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "Food", history[0]["category"])

	rec = s.do(t, http.MethodGet, "/api/analytics/spending", alice, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Food"`)

	assert.Equal(t, money.FromRupees(200), s.store.TotalBalance())
}

func TestRouter_AdviceUnavailable(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "9876543210")

	rec := s.do(t, http.MethodPost, "/api/advice", alice, `{"question":"How am I doing?"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestIdempotency_ReplaysTransfer(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "9876543210")
	bob := s.signup(t, "9123456789")
	body := `{"receiverPhone":"9123456789","amount":40}`
	headers := map[string]string{IdempotencyKeyHeader: "transfer-1"}

	first := s.do(t, http.MethodPost, "/api/transfer", alice, body, headers)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(ReplayedHeader))

	second := s.do(t, http.MethodPost, "/api/transfer", alice, body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.Equal(t, first.Body.String(), second.Body.String())

	rec := s.do(t, http.MethodGet, "/api/balance", bob, "", nil)
	assert.JSONEq(t, `{"balance":140.00}`, rec.Body.String())

	// Keys are scoped to the caller.
	third := s.do(t, http.MethodPost, "/api/transfer", bob, `{"receiverPhone":"9876543210","amount":10}`, headers)
	require.Equal(t, http.StatusOK, third.Code)
	assert.Empty(t, third.Header().Get(ReplayedHeader))
}

func TestIdempotency_StoresClientErrors(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "9876543210")
	s.signup(t, "9123456789")
	headers := map[string]string{IdempotencyKeyHeader: "too-much"}

	first := s.do(t, http.MethodPost, "/api/transfer", alice, `{"receiverPhone":"9123456789","amount":500}`, headers)
	require.Equal(t, http.StatusUnprocessableEntity, first.Code)

	second := s.do(t, http.MethodPost, "/api/transfer", alice, `{"receiverPhone":"9123456789","amount":5}`, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
}

func TestIdempotency_InProgress(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "9876543210")
	s.signup(t, "9123456789")

	key := idempotencyKey(alice.String(), "/api/transfer", "busy")
	require.NoError(t, s.redis.Set(context.Background(), key, pendingMarker, time.Minute))

	rec := s.do(t, http.MethodPost, "/api/transfer", alice, `{"receiverPhone":"9123456789","amount":1}`,
		map[string]string{IdempotencyKeyHeader: "busy"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "request already in progress")
}

func TestIdempotency_ReleasesKeyWhenUnavailable(t *testing.T) {
	client := redis.NewMemoryClient()
	handler := IdempotencyMiddleware(client, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	caller := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/transfer", nil)
	req.Header.Set(IdempotencyKeyHeader, "k1")
	req = req.WithContext(auth.WithCaller(req.Context(), caller))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	_, err := client.Get(context.Background(), idempotencyKey(caller.String(), "/api/transfer", "k1"))
	assert.ErrorIs(t, err, redis.ErrKeyNotFound)
}

func TestIdempotency_Passthrough(t *testing.T) {
	calls := 0
	handler := IdempotencyMiddleware(redis.NewMemoryClient(), 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req := httptest.NewRequest(method, "/api/transfer", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)

	req := httptest.NewRequest(http.MethodPost, "/api/transfer", nil)
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("x", maxIdempotencyKey+1))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, calls)
}

type brokenRedis struct{ redis.RedisClient }

func (brokenRedis) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}

func TestIdempotency_StoreDown(t *testing.T) {
	s := newTestServer(t, brokenRedis{})
	alice := s.signup(t, "9876543210")
	s.signup(t, "9123456789")

	rec := s.do(t, http.MethodPost, "/api/transfer", alice, `{"receiverPhone":"9123456789","amount":1}`,
		map[string]string{IdempotencyKeyHeader: "k"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, money.FromRupees(200), s.store.TotalBalance())

	without := s.do(t, http.MethodPost, "/api/transfer", alice, `{"receiverPhone":"9123456789","amount":1}`, nil)
	assert.Equal(t, http.StatusOK, without.Code)
}

// creditReversalFails refuses to take money back from receiver, leaving a
// transfer whose record insert failed half-applied.
type creditReversalFails struct {
	repository.ProfileRepository
	receiver *uuid.UUID
}

func (p *creditReversalFails) CompareAndSwapBalance(ctx context.Context, id uuid.UUID, expected, next money.Amount) error {
	if id == *p.receiver && next < expected {
		return pkgerrors.ErrPersistence
	}
	return p.ProfileRepository.CompareAndSwapBalance(ctx, id, expected, next)
}

type recordFails struct {
	repository.TransactionRepository
}

func (recordFails) Create(ctx context.Context, tx *models.Transaction) error {
	return pkgerrors.ErrPersistence
}

func TestIdempotency_CompensationFailureIsReplayed(t *testing.T) {
	var bob uuid.UUID
	s := newTestServerWith(t, serverOptions{
		wrapProfiles: func(p repository.ProfileRepository) repository.ProfileRepository {
			return &creditReversalFails{ProfileRepository: p, receiver: &bob}
		},
		wrapTransactions: func(tx repository.TransactionRepository) repository.TransactionRepository {
			return recordFails{TransactionRepository: tx}
		},
		compensationMaxAttempts: 1,
	})
	alice := s.signup(t, "9876543210")
	bob = s.signup(t, "9123456789")
	body := `{"receiverPhone":"9123456789","amount":40}`
	headers := map[string]string{IdempotencyKeyHeader: "pay-1"}

	first := s.do(t, http.MethodPost, "/api/transfer", alice, body, headers)
	require.Equal(t, http.StatusInternalServerError, first.Code)
	assert.Contains(t, first.Body.String(), "flagged for reconciliation")

	retry := s.do(t, http.MethodPost, "/api/transfer", alice, body, headers)
	assert.Equal(t, http.StatusInternalServerError, retry.Code)
	assert.Equal(t, "true", retry.Header().Get(ReplayedHeader))
	assert.Equal(t, first.Body.String(), retry.Body.String())

	ctx := context.Background()
	sender, err := s.store.Profiles().GetByID(ctx, alice)
	require.NoError(t, err)
	receiver, err := s.store.Profiles().GetByID(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, money.FromRupees(60), sender.Balance)
	assert.Equal(t, money.FromRupees(140), receiver.Balance)
}

func TestIdempotency_KeyScopedToPath(t *testing.T) {
	s := newTestServer(t, nil)
	alice := uuid.New()
	headers := map[string]string{IdempotencyKeyHeader: "shared"}

	rec := s.do(t, http.MethodPost, "/api/profile", alice, `{"phone":"9876543210"}`, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	s.signup(t, "9123456789")

	rec = s.do(t, http.MethodPost, "/api/transfer", alice, `{"receiverPhone":"9123456789","amount":5}`, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Header().Get(ReplayedHeader))
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestReleasable(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusBadGateway, http.StatusServiceUnavailable} {
		assert.True(t, releasable(status), status)
	}
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusInternalServerError} {
		assert.False(t, releasable(status), status)
	}
}
