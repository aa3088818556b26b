package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/redis"
	"github.com/honeynil/MoneyMitra/internal/money"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceGuard(t *testing.T) {
	g := &balanceGuard{}
	id := uuid.New()
	stored := func(snap uint64) bool { return g.storeIfQuiet(id, snap, func() {}) }

	assert.True(t, stored(g.snapshot(id)))

	snap := g.snapshot(id)
	g.begin(id)
	assert.False(t, stored(snap), "transfer running")
	assert.False(t, stored(g.snapshot(id)), "transfer running")
	g.end(id)
	assert.False(t, stored(snap), "transfer overlapped the read")

	assert.True(t, stored(g.snapshot(id)))
}

// slowCache holds every Set until release is closed.
type slowCache struct {
	redis.RedisClient
	setCalled chan struct{}
	release   chan struct{}
}

func (c *slowCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	select {
	case c.setCalled <- struct{}{}:
	default:
	}
	<-c.release
	return c.RedisClient.Set(ctx, key, value, expiration)
}

func TestLedgerService_GetBalance_NotCachedDuringTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.addProfile(t, "9876543210", 100)
	bob := f.addProfile(t, "9123456789", 50)

	cache := &slowCache{RedisClient: f.cache, setCalled: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewLedgerService(f.profiles, f.txs, cache, f.producer, LedgerConfig{
		TransferMaxAttempts: 1,
		RetryInterval:       time.Millisecond,
	})

	type result struct {
		balance money.Amount
		err     error
	}
	read := make(chan result, 1)
	f.profiles.setHook(func(id uuid.UUID, expected, next money.Amount) error {
		if id != bob.ID {
			return nil
		}
		// Alice is debited here; the credit is about to fail and be reversed.
		go func() {
			b, err := svc.GetBalance(ctx, alice.ID)
			read <- result{b, err}
		}()
		select {
		case <-cache.setCalled:
		case r := <-read:
			read <- r
		case <-time.After(time.Second):
		}
		return pkgerrors.ErrPersistence
	})

	err := svc.Transfer(ctx, alice.ID, TransferRequest{ReceiverPhone: bob.Phone, Amount: money.FromRupees(40)})
	require.ErrorIs(t, err, pkgerrors.ErrPersistence)
	f.profiles.setHook(nil)

	close(cache.release)
	mid := <-read
	require.NoError(t, mid.err)
	assert.Equal(t, money.FromRupees(60), mid.balance)

	_, err = f.cache.Get(ctx, balanceKey(alice.ID))
	assert.ErrorIs(t, err, redis.ErrKeyNotFound)

	got, err := svc.GetBalance(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, money.FromRupees(100), got)
}
