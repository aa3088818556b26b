package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/llm"
	"github.com/honeynil/MoneyMitra/internal/repository"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const fallbackAnswer = "I apologize, but I could not generate a response."

type AdviceService interface {
	Ask(ctx context.Context, callerID uuid.UUID, question string) (string, error)
}

type adviceService struct {
	profileRepo     repository.ProfileRepository
	transactionRepo repository.TransactionRepository
	completer       llm.Completer
	now             func() time.Time
}

// NewAdviceService returns a service that answers with completer. A nil
// completer makes every request fail with ErrAdviceUnavailable.
func NewAdviceService(
	profileRepo repository.ProfileRepository,
	transactionRepo repository.TransactionRepository,
	completer llm.Completer,
) *adviceService {
	return &adviceService{
		profileRepo:     profileRepo,
		transactionRepo: transactionRepo,
		completer:       completer,
		now:             time.Now,
	}
}

func (s *adviceService) Ask(ctx context.Context, callerID uuid.UUID, question string) (string, error) {
	ctx, span := otel.Tracer("advice-service").Start(ctx, "Ask")
	defer span.End()

	if strings.TrimSpace(question) == "" {
		span.SetStatus(codes.Error, "empty question")
		return "", fmt.Errorf("%w: question is required", pkgerrors.ErrInvalidInput)
	}
	if s.completer == nil {
		span.SetStatus(codes.Error, "completer not configured")
		return "", fmt.Errorf("%w: AI service not configured", pkgerrors.ErrAdviceUnavailable)
	}

	systemPrompt := s.buildAdviceContext(ctx, callerID, s.now())
	answer, err := s.completer.Complete(ctx, systemPrompt, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		slog.Error("advice completion failed", "user_id", callerID, "error", err)
		return "", fmt.Errorf("%w: %w", pkgerrors.ErrAdviceUnavailable, err)
	}
	if answer == "" {
		answer = fallbackAnswer
	}

	slog.Info("advice answered", "user_id", callerID, "question_length", len(question), "answer_length", len(answer))
	return answer, nil
}
