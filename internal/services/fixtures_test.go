package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/redis"
	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
	"github.com/honeynil/MoneyMitra/internal/repository"
	"github.com/honeynil/MoneyMitra/internal/repository/memory"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	topic string
	key   string
	value []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []sentMessage
	err  error
}

func (p *fakeProducer) Send(ctx context.Context, topic string, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, sentMessage{topic: topic, key: key, value: value})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) onTopic(topic string) []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []sentMessage
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// faultyProfiles runs casHook before every compare-and-swap; a non-nil result
// is returned instead of writing.
type faultyProfiles struct {
	repository.ProfileRepository
	mu      sync.Mutex
	casHook func(id uuid.UUID, expected, next money.Amount) error
}

func (f *faultyProfiles) CompareAndSwapBalance(ctx context.Context, id uuid.UUID, expected, next money.Amount) error {
	f.mu.Lock()
	hook := f.casHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(id, expected, next); err != nil {
			return err
		}
	}
	return f.ProfileRepository.CompareAndSwapBalance(ctx, id, expected, next)
}

func (f *faultyProfiles) setHook(hook func(id uuid.UUID, expected, next money.Amount) error) {
	f.mu.Lock()
	f.casHook = hook
	f.mu.Unlock()
}

type faultyTransactions struct {
	repository.TransactionRepository
	createHook func(tx *models.Transaction) error
}

func (f *faultyTransactions) Create(ctx context.Context, tx *models.Transaction) error {
	if f.createHook != nil {
		if err := f.createHook(tx); err != nil {
			return err
		}
	}
	return f.TransactionRepository.Create(ctx, tx)
}

type fixture struct {
	store    *memory.Store
	profiles *faultyProfiles
	txs      *faultyTransactions
	cache    *redis.MemoryClient
	producer *fakeProducer
	svc      *ledgerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		store:    store,
		profiles: &faultyProfiles{ProfileRepository: store.Profiles()},
		txs:      &faultyTransactions{TransactionRepository: store.Transactions()},
		cache:    redis.NewMemoryClient(),
		producer: &fakeProducer{},
	}
	f.svc = NewLedgerService(f.profiles, f.txs, f.cache, f.producer, LedgerConfig{
		TransferMaxAttempts:     3,
		CompensationMaxAttempts: 3,
		StartingBalance:         models.DefaultStartingBalance,
		RetryInterval:           time.Millisecond,
	})
	return f
}

func (f *fixture) addProfile(t *testing.T, phone string, rupees int64) *models.Profile {
	t.Helper()
	p := &models.Profile{ID: uuid.New(), Phone: phone, Balance: money.FromRupees(rupees), Name: "user " + phone}
	require.NoError(t, f.store.Profiles().Create(context.Background(), p))
	return p
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) money.Amount {
	t.Helper()
	p, err := f.store.Profiles().GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Balance
}

func (f *fixture) history(t *testing.T, id uuid.UUID) []models.Transaction {
	t.Helper()
	txs, err := f.store.Transactions().ListByParticipant(context.Background(), id, 100)
	require.NoError(t, err)
	return txs
}
