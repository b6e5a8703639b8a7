package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
)

// HistoryInput selects a ledger history page for one owner or wallet.
type HistoryInput struct {
	OwnerID  uuid.UUID
	WalletID uuid.UUID
	Limit    int
	Cursor   string
}

// Entry is the external view of a ledger row.
type Entry struct {
	ID                 uuid.UUID                 `json:"id"`
	WalletID           uuid.UUID                 `json:"walletId"`
	OwnerID            uuid.UUID                 `json:"ownerId"`
	Type               enums.TransactionType     `json:"type"`
	Category           enums.TransactionCategory `json:"category"`
	AmountCents        int64                     `json:"amountCents"`
	BalanceBeforeCents int64                     `json:"balanceBeforeCents"`
	BalanceAfterCents  int64                     `json:"balanceAfterCents"`
	Status             enums.TransactionStatus   `json:"status"`
	Reference          string                    `json:"reference"`
	Description        string                    `json:"description"`
	CreatedAt          time.Time                 `json:"createdAt"`
}

// HistoryPage carries one page of entries plus the cursor for the next page.
type HistoryPage struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

func toEntry(row models.WalletTransaction) Entry {
	return Entry{
		ID:                 row.ID,
		WalletID:           row.WalletID,
		OwnerID:            row.OwnerID,
		Type:               row.Type,
		Category:           row.Category,
		AmountCents:        row.AmountCents,
		BalanceBeforeCents: row.BalanceBeforeCents,
		BalanceAfterCents:  row.BalanceAfterCents,
		Status:             row.Status,
		Reference:          row.Reference,
		Description:        row.Description,
		CreatedAt:          row.CreatedAt,
	}
}

func toEntries(rows []models.WalletTransaction) []Entry {
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row))
	}
	return entries
}
