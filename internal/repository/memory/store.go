// Package memory is a process-local ledger store used for development and tests.
// It follows the same contracts as the Postgres repositories, including
// compare-and-swap balance updates.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
	"github.com/honeynil/MoneyMitra/internal/repository"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
)

var (
	_ repository.ProfileRepository     = (*ProfileStore)(nil)
	_ repository.TransactionRepository = (*TransactionStore)(nil)
	_ repository.IncidentRepository    = (*IncidentStore)(nil)
)

type Store struct {
	mu        sync.Mutex
	profiles  map[uuid.UUID]models.Profile
	phones    map[string]uuid.UUID
	txs       []models.Transaction
	incidents map[uuid.UUID]models.LedgerIncident
	lastStamp time.Time
}

func NewStore() *Store {
	return &Store{
		profiles:  make(map[uuid.UUID]models.Profile),
		phones:    make(map[string]uuid.UUID),
		incidents: make(map[uuid.UUID]models.LedgerIncident),
	}
}

func (s *Store) Profiles() *ProfileStore {
	return &ProfileStore{s: s}
}

func (s *Store) Transactions() *TransactionStore {
	return &TransactionStore{s: s}
}

func (s *Store) Incidents() *IncidentStore {
	return &IncidentStore{s: s}
}

// TotalBalance sums every profile balance.
func (s *Store) TotalBalance() money.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total money.Amount
	for _, p := range s.profiles {
		total += p.Balance
	}
	return total
}

// stamp returns a strictly increasing timestamp. Caller holds mu.
func (s *Store) stamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = now
	return now
}

type ProfileStore struct {
	s *Store
}

func (p *ProfileStore) Create(ctx context.Context, profile *models.Profile) error {
	if profile == nil {
		return pkgerrors.ErrNilProfile
	}
	if profile.ID == uuid.Nil || profile.Phone == "" {
		return fmt.Errorf("%w: profile id and phone are required", pkgerrors.ErrInvalidInput)
	}
	if profile.Balance < 0 {
		return fmt.Errorf("%w: starting balance cannot be negative", pkgerrors.ErrInvalidAmount)
	}

	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.profiles[profile.ID]; ok {
		return pkgerrors.ErrProfileExists
	}
	if _, ok := p.s.phones[profile.Phone]; ok {
		return pkgerrors.ErrPhoneTaken
	}
	now := p.s.stamp()
	profile.CreatedAt, profile.UpdatedAt = now, now
	p.s.profiles[profile.ID] = *profile
	p.s.phones[profile.Phone] = profile.ID
	return nil
}

func (p *ProfileStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	profile, ok := p.s.profiles[id]
	if !ok {
		return nil, pkgerrors.ErrProfileNotFound
	}
	return &profile, nil
}

func (p *ProfileStore) GetByPhone(ctx context.Context, phone string) (*models.Profile, error) {
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", pkgerrors.ErrInvalidInput)
	}
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	id, ok := p.s.phones[phone]
	if !ok {
		return nil, pkgerrors.ErrProfileNotFound
	}
	profile := p.s.profiles[id]
	return &profile, nil
}

func (p *ProfileStore) CompareAndSwapBalance(ctx context.Context, id uuid.UUID, expected, next money.Amount) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	profile, ok := p.s.profiles[id]
	if !ok || profile.Balance != expected {
		return pkgerrors.ErrConflict
	}
	profile.Balance = next
	profile.UpdatedAt = p.s.stamp()
	p.s.profiles[id] = profile
	return nil
}

type TransactionStore struct {
	s *Store
}

func (t *TransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if tx.SenderID == uuid.Nil || tx.ReceiverID == uuid.Nil {
		return fmt.Errorf("%w: sender and receiver are required", pkgerrors.ErrInvalidInput)
	}
	if tx.SenderID == tx.ReceiverID {
		return pkgerrors.ErrSelfTransfer
	}
	if tx.Amount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tx.ID = uuid.New()
	tx.CreatedAt = t.s.stamp()
	t.s.txs = append(t.s.txs, *tx)
	return nil
}

func (t *TransactionStore) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", pkgerrors.ErrInvalidInput)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	out := make([]models.Transaction, 0, limit)
	// txs is append-only with increasing CreatedAt, so walking backwards is newest first.
	for i := len(t.s.txs) - 1; i >= 0 && len(out) < limit; i-- {
		tx := t.s.txs[i]
		if tx.SenderID == userID || tx.ReceiverID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (t *TransactionStore) SpendingByCategory(ctx context.Context, senderID uuid.UUID) ([]models.CategorySpend, error) {
	t.s.mu.Lock()
	totals := make(map[models.Category]money.Amount)
	for _, tx := range t.s.txs {
		if tx.SenderID == senderID {
			totals[tx.Category] += tx.Amount
		}
	}
	t.s.mu.Unlock()

	spend := make([]models.CategorySpend, 0, len(totals))
	for c, total := range totals {
		spend = append(spend, models.CategorySpend{Category: c, Total: total})
	}
	sort.Slice(spend, func(i, j int) bool {
		if spend[i].Total != spend[j].Total {
			return spend[i].Total > spend[j].Total
		}
		return spend[i].Category < spend[j].Category
	})
	return spend, nil
}

type IncidentStore struct {
	s *Store
}

func (i *IncidentStore) Create(ctx context.Context, incident *models.LedgerIncident) error {
	if incident == nil {
		return pkgerrors.ErrNilIncident
	}
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	if _, ok := i.s.incidents[incident.ID]; !ok {
		i.s.incidents[incident.ID] = *incident
	}
	return nil
}

// List returns recorded incidents ordered by detection time.
func (i *IncidentStore) List() []models.LedgerIncident {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	out := make([]models.LedgerIncident, 0, len(i.s.incidents))
	for _, inc := range i.s.incidents {
		out = append(out, inc)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DetectedAt.Before(out[b].DetectedAt) })
	return out
}
