package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/mercanta/mercanta-backend/pkg/errors"
	"github.com/mercanta/mercanta-backend/pkg/pagination"
)

// Service exposes read access over the immutable ledger.
type Service interface {
	History(ctx context.Context, input HistoryInput) (*HistoryPage, error)
	GetByReference(ctx context.Context, reference string) (*Entry, error)
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) History(ctx context.Context, input HistoryInput) (*HistoryPage, error) {
	if input.OwnerID == uuid.Nil && input.WalletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner or wallet id required")
	}

	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := func() ([]Entry, error) {
		if input.WalletID != uuid.Nil {
			entries, err := s.repo.ListByWallet(ctx, input.WalletID, cursor, input.Limit)
			return toEntries(entries), err
		}
		entries, err := s.repo.ListByOwner(ctx, input.OwnerID, cursor, input.Limit)
		return toEntries(entries), err
	}()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}

	page, hasMore := pagination.TrimPage(rows, input.Limit)
	result := &HistoryPage{Entries: page}
	if hasMore && len(page) > 0 {
		last := page[len(page)-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return result, nil
}

func (s *service) GetByReference(ctx context.Context, reference string) (*Entry, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}
	row, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	entry := toEntry(*row)
	return &entry, nil
}
