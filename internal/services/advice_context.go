package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/models"
)

const (
	adviceHistoryLimit = 10
	noTransactionsText = "No transactions yet"
	unknownBalanceText = "N/A"
)

const advicePromptTemplate = `You are a helpful AI financial assistant for MoneyMitra, a UPI-style payment app. 
You help users understand their spending patterns and provide financial advice.

Current date: %s

User's current balance: ₹%s

Recent transactions:
%s

Provide clear, concise, and friendly financial advice. Focus on practical tips for saving, budgeting, and managing money wisely. When asked about the current date, always respond with the date provided above.`

// buildAdviceContext renders the system prompt for callerID. Read failures
// degrade the prompt instead of failing the request.
func (s *adviceService) buildAdviceContext(ctx context.Context, callerID uuid.UUID, now time.Time) string {
	txs, err := s.transactionRepo.ListByParticipant(ctx, callerID, adviceHistoryLimit)
	if err != nil {
		slog.Error("failed to load transactions for advice", "user_id", callerID, "error", err)
		txs = nil
	}

	balance := unknownBalanceText
	profile, err := s.profileRepo.GetByID(ctx, callerID)
	if err != nil {
		slog.Error("failed to load profile for advice", "user_id", callerID, "error", err)
	} else {
		balance = profile.Balance.String()
	}

	return fmt.Sprintf(advicePromptTemplate, now.Format("Monday, January 2, 2006"), balance, formatTransactions(callerID, txs))
}

func formatTransactions(callerID uuid.UUID, txs []models.Transaction) string {
	if len(txs) == 0 {
		return noTransactionsText
	}
	lines := make([]string, 0, len(txs))
	for _, tx := range txs {
		verb := "Received"
		if tx.DirectionFor(callerID) == models.DirectionSent {
			verb = "Sent"
		}
		lines = append(lines, fmt.Sprintf("%s %s - %s on %s", verb, tx.Amount.Rupees(), tx.Category, tx.CreatedAt.Format("1/2/2006")))
	}
	return strings.Join(lines, "\n")
}
