package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/kafka"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/observability"
	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const alertPublishTimeout = 5 * time.Second

// Transfer moves req.Amount from the caller to the profile registered under
// req.ReceiverPhone and records the transaction. Debit, credit and record are
// separate store writes; a failure after the debit is undone by compensating
// reversals. A Conflict restarts the whole transfer, up to TransferMaxAttempts.
func (s *ledgerService) Transfer(ctx context.Context, callerID uuid.UUID, req TransferRequest) (err error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("sender_id", callerID.String()),
		attribute.Int64("amount", int64(req.Amount)),
	)

	scope := newTransferScope(s.guard)
	defer func() {
		s.invalidateBalances(ctx, scope.touchedIDs()...)
		scope.release()

		outcome := transferOutcome(err)
		observability.TransferOutcomes.WithLabelValues(outcome).Inc()
		if err != nil && outcome != "rejected" {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
	}()

	var tx *models.Transaction
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			observability.TransferConflictRetries.Inc()
			slog.Info("retrying transfer after conflict", "sender_id", callerID, "attempt", attempt)
		}
		recorded, err := s.attemptTransfer(ctx, callerID, req, scope)
		if err == nil {
			tx = recorded
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(s.newBackOff(), uint64(s.cfg.TransferMaxAttempts-1)),
		ctx,
	)
	if err = backoff.Retry(op, policy); err != nil {
		if isRetryable(err) {
			slog.Warn("transfer abandoned after repeated conflicts", "sender_id", callerID, "attempts", attempt)
		} else if !stderrors.Is(err, pkgerrors.ErrCompensationFailure) {
			slog.Warn("transfer failed", "sender_id", callerID, "attempts", attempt, "error", err)
		}
		return err
	}

	s.publishTransfer(ctx, tx)
	slog.Info("transfer completed",
		"transaction_id", tx.ID,
		"sender_id", tx.SenderID,
		"receiver_id", tx.ReceiverID,
		"amount", tx.Amount,
		"category", tx.Category,
		"attempts", attempt)
	return nil
}

// attemptTransfer runs one pass of the transfer. Profiles are held in scope
// before their balances are written.
func (s *ledgerService) attemptTransfer(
	ctx context.Context,
	callerID uuid.UUID,
	req TransferRequest,
	scope *transferScope,
) (*models.Transaction, error) {
	sender, err := s.profileRepo.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, pkgerrors.ErrInvalidAmount
	}
	if sender.Balance < req.Amount {
		return nil, fmt.Errorf("%w: balance %s, requested %s", pkgerrors.ErrInsufficientBalance, sender.Balance.Rupees(), req.Amount.Rupees())
	}
	category, err := models.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}

	receiver, err := s.resolveReceiver(ctx, req.ReceiverPhone)
	if err != nil {
		return nil, err
	}
	if receiver.ID == sender.ID {
		return nil, pkgerrors.ErrSelfTransfer
	}

	scope.hold(sender.ID)
	debitAt := time.Now().UTC()
	if err := s.profileRepo.CompareAndSwapBalance(ctx, sender.ID, sender.Balance, sender.Balance-req.Amount); err != nil {
		return nil, err
	}
	scope.touched[sender.ID] = struct{}{}

	scope.hold(receiver.ID)
	creditAt := time.Now().UTC()
	if err := s.profileRepo.CompareAndSwapBalance(ctx, receiver.ID, receiver.Balance, receiver.Balance+req.Amount); err != nil {
		if rerr := s.reverse(ctx, sender.ID, req.Amount); rerr != nil {
			return nil, s.compensationFailed(ctx, &pkgerrors.CompensationError{
				SenderID:    sender.ID,
				ReceiverID:  receiver.ID,
				Amount:      int64(req.Amount),
				Stage:       string(models.StageCredit),
				DebitAt:     debitAt,
				CreditAt:    creditAt,
				Cause:       err,
				ReversalErr: rerr,
			})
		}
		observability.Compensations.WithLabelValues("success").Inc()
		slog.Warn("credit failed, debit reversed", "sender_id", sender.ID, "receiver_id", receiver.ID, "amount", req.Amount, "error", err)
		return nil, err
	}
	scope.touched[receiver.ID] = struct{}{}

	tx := &models.Transaction{
		SenderID:    sender.ID,
		ReceiverID:  receiver.ID,
		Amount:      req.Amount,
		Category:    category,
		Description: req.Description,
	}
	if err := s.transactionRepo.Create(ctx, tx); err != nil {
		cerr := &pkgerrors.CompensationError{
			SenderID:   sender.ID,
			ReceiverID: receiver.ID,
			Amount:     int64(req.Amount),
			Stage:      string(models.StageRecord),
			DebitAt:    debitAt,
			CreditAt:   creditAt,
			Cause:      err,
		}
		// The debit is only reversed once the credit is gone, so funds are never created.
		if rerr := s.reverse(ctx, receiver.ID, -req.Amount); rerr != nil {
			cerr.ReversalErr = fmt.Errorf("credit reversal: %w", rerr)
			return nil, s.compensationFailed(ctx, cerr)
		}
		if rerr := s.reverse(ctx, sender.ID, req.Amount); rerr != nil {
			cerr.ReversalErr = fmt.Errorf("debit reversal: %w", rerr)
			return nil, s.compensationFailed(ctx, cerr)
		}
		observability.Compensations.WithLabelValues("success").Inc()
		slog.Warn("transaction record failed, transfer reversed", "sender_id", sender.ID, "receiver_id", receiver.ID, "amount", req.Amount, "error", err)
		return nil, err
	}
	return tx, nil
}

// transferScope records the profiles one transfer has held in the balance
// guard and the ones whose balances it wrote.
type transferScope struct {
	guard   *balanceGuard
	held    map[uuid.UUID]struct{}
	touched map[uuid.UUID]struct{}
}

func newTransferScope(guard *balanceGuard) *transferScope {
	return &transferScope{
		guard:   guard,
		held:    make(map[uuid.UUID]struct{}),
		touched: make(map[uuid.UUID]struct{}),
	}
}

func (t *transferScope) hold(id uuid.UUID) {
	if _, ok := t.held[id]; ok {
		return
	}
	t.guard.begin(id)
	t.held[id] = struct{}{}
}

func (t *transferScope) release() {
	for id := range t.held {
		t.guard.end(id)
	}
}

func (t *transferScope) touchedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(t.touched))
	for id := range t.touched {
		ids = append(ids, id)
	}
	return ids
}

func (s *ledgerService) resolveReceiver(ctx context.Context, rawPhone string) (*models.Profile, error) {
	phone, err := models.NormalizePhone(rawPhone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a registered phone number", pkgerrors.ErrReceiverNotFound, rawPhone)
	}
	receiver, err := s.profileRepo.GetByPhone(ctx, phone)
	if stderrors.Is(err, pkgerrors.ErrProfileNotFound) {
		return nil, pkgerrors.ErrReceiverNotFound
	}
	if err != nil {
		return nil, err
	}
	return receiver, nil
}

// reverse adds delta to the profile balance using a fresh read and a
// compare-and-swap, retrying on Conflict and Persistence. It ignores
// cancellation of ctx: an abandoned request must not leave a half-applied transfer.
func (s *ledgerService) reverse(ctx context.Context, id uuid.UUID, delta money.Amount) error {
	ctx = context.WithoutCancel(ctx)
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "ReverseBalance")
	defer span.End()

	op := func() error {
		profile, err := s.profileRepo.GetByID(ctx, id)
		if err != nil {
			if stderrors.Is(err, pkgerrors.ErrPersistence) {
				return err
			}
			return backoff.Permanent(err)
		}
		next := profile.Balance + delta
		if next < 0 {
			return backoff.Permanent(fmt.Errorf("%w: reversal of %s would overdraw profile %s",
				pkgerrors.ErrInsufficientBalance, (-delta).Rupees(), id))
		}
		err = s.profileRepo.CompareAndSwapBalance(ctx, id, profile.Balance, next)
		if err == nil || stderrors.Is(err, pkgerrors.ErrConflict) || stderrors.Is(err, pkgerrors.ErrPersistence) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithMaxRetries(s.newBackOff(), uint64(s.cfg.CompensationMaxAttempts-1))
	if err := backoff.Retry(op, policy); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reversal failed")
		return err
	}
	return nil
}

// compensationFailed escalates a transfer that could not be rolled back.
func (s *ledgerService) compensationFailed(ctx context.Context, cerr *pkgerrors.CompensationError) error {
	observability.Compensations.WithLabelValues("failed").Inc()
	observability.CompensationFailures.Inc()
	slog.Error("LEDGER INCONSISTENT: compensation failed, manual reconciliation required",
		"sender_id", cerr.SenderID,
		"receiver_id", cerr.ReceiverID,
		"amount", money.Amount(cerr.Amount),
		"stage", cerr.Stage,
		"debit_at", cerr.DebitAt,
		"credit_at", cerr.CreditAt,
		"cause", cerr.Cause,
		"reversal_error", cerr.ReversalErr)

	incident := models.LedgerIncident{
		ID:          uuid.New(),
		SenderID:    cerr.SenderID,
		ReceiverID:  cerr.ReceiverID,
		Amount:      money.Amount(cerr.Amount),
		Stage:       models.CompensationStage(cerr.Stage),
		DebitAt:     cerr.DebitAt,
		CreditAt:    cerr.CreditAt,
		Cause:       errString(cerr.Cause),
		ReversalErr: errString(cerr.ReversalErr),
		DetectedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(kafka.NewCompensationAlert(incident))
	if err != nil {
		slog.Error("failed to marshal compensation alert", "incident_id", incident.ID, "error", err)
		return cerr
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertPublishTimeout)
	defer cancel()
	if err := s.producer.Send(sendCtx, s.cfg.AlertsTopic, incident.ID.String(), payload); err != nil {
		slog.Error("failed to publish compensation alert", "incident_id", incident.ID, "payload", string(payload), "error", err)
	}
	return cerr
}

func (s *ledgerService) publishTransfer(ctx context.Context, tx *models.Transaction) {
	payload, err := json.Marshal(kafka.NewTransferEvent(tx))
	if err != nil {
		slog.Error("failed to marshal transfer event", "transaction_id", tx.ID, "error", err)
		return
	}
	if err := s.producer.Send(context.WithoutCancel(ctx), s.cfg.TransfersTopic, tx.SenderID.String(), payload); err != nil {
		slog.Error("failed to publish transfer event", "transaction_id", tx.ID, "error", err)
	}
}

func (s *ledgerService) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInterval
	b.MaxInterval = 20 * s.cfg.RetryInterval
	b.MaxElapsedTime = 0
	return b
}

// isRetryable reports a plain Conflict. A Conflict left inside a failed
// compensation is not retryable.
func isRetryable(err error) bool {
	return stderrors.Is(err, pkgerrors.ErrConflict) && !stderrors.Is(err, pkgerrors.ErrCompensationFailure)
}

func transferOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case stderrors.Is(err, pkgerrors.ErrCompensationFailure):
		return "compensation_failed"
	case stderrors.Is(err, pkgerrors.ErrConflict):
		return "conflict"
	case stderrors.Is(err, pkgerrors.ErrInvalidAmount),
		stderrors.Is(err, pkgerrors.ErrInvalidCategory),
		stderrors.Is(err, pkgerrors.ErrInsufficientBalance),
		stderrors.Is(err, pkgerrors.ErrReceiverNotFound),
		stderrors.Is(err, pkgerrors.ErrSelfTransfer),
		stderrors.Is(err, pkgerrors.ErrProfileNotFound):
		return "rejected"
	default:
		return "error"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
