package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/internal/ledger"
	"github.com/mercanta/mercanta-backend/pkg/config"
	dbpkg "github.com/mercanta/mercanta-backend/pkg/db"
	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/db/types"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	pkgerrors "github.com/mercanta/mercanta-backend/pkg/errors"
	"github.com/mercanta/mercanta-backend/pkg/logger"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
	"github.com/mercanta/mercanta-backend/pkg/outbox/payloads"
)

// Service is the wallet balance engine. Every mutation runs in one database
// transaction: the wallet row is locked, the ledger entry is written, and the
// outbox event is queued before commit.
type Service interface {
	EnsureWallet(ctx context.Context, input EnsureWalletInput) (*models.Wallet, error)
	Get(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	GetByOwner(ctx context.Context, ownerID uuid.UUID, kind enums.AccountKind, currency enums.Currency) (*models.Wallet, error)
	Credit(ctx context.Context, input CreditInput) (*MutationResult, error)
	Debit(ctx context.Context, input DebitInput) (*MutationResult, error)
	Freeze(ctx context.Context, input HoldInput) (*MutationResult, error)
	// FreezeTx applies a freeze inside the caller's transaction so the hold
	// commits or rolls back together with the caller's own writes.
	FreezeTx(ctx context.Context, tx *gorm.DB, input HoldInput) (*MutationResult, error)
	Unfreeze(ctx context.Context, input HoldInput) (*MutationResult, error)
	AdjustBalance(ctx context.Context, input AdjustInput) (*MutationResult, error)
	SetCreditLimit(ctx context.Context, input SetCreditLimitInput) (*models.Wallet, error)
	SettleWithdrawal(ctx context.Context, input SettleWithdrawalInput) (*MutationResult, error)
	History(ctx context.Context, input ledger.HistoryInput) (*ledger.HistoryPage, error)
}

type service struct {
	repo    Repository
	entries ledger.Repository
	history ledger.Service
	tx      txRunner
	outbox  outboxPublisher
	metrics operationMetrics
	logg    *logger.Logger
	cfg     config.WalletConfig
}

// NewService builds the wallet engine with the required dependencies.
func NewService(
	repo Repository,
	entries ledger.Repository,
	history ledger.Service,
	tx txRunner,
	outboxSvc outboxPublisher,
	metrics operationMetrics,
	logg *logger.Logger,
	cfg config.WalletConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if entries == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if history == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:    repo,
		entries: entries,
		history: history,
		tx:      tx,
		outbox:  outboxSvc,
		metrics: metrics,
		logg:    logg,
		cfg:     cfg,
	}, nil
}

func (s *service) EnsureWallet(ctx context.Context, input EnsureWalletInput) (*models.Wallet, error) {
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if input.Kind == "" {
		input.Kind = enums.AccountKindIndividual
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid account kind")
	}
	if input.Currency == "" {
		input.Currency = enums.CurrencyUSD
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}

	existing, err := s.repo.FindByOwner(ctx, input.OwnerID, input.Kind, input.Currency)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}

	wallet := &models.Wallet{
		ID:       uuid.New(),
		OwnerID:  input.OwnerID,
		Kind:     input.Kind,
		Currency: input.Currency,
		Status:   enums.WalletStatusActive,
	}
	if err := s.repo.Create(ctx, wallet); err != nil {
		if dbpkg.IsUniqueViolation(err, "uq_wallets_owner_kind_currency") {
			// concurrent provisioning won the race
			return s.GetByOwner(ctx, input.OwnerID, input.Kind, input.Currency)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create wallet")
	}
	return wallet, nil
}

func (s *service) Get(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	wallet, err := s.repo.FindByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeWalletNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

func (s *service) GetByOwner(ctx context.Context, ownerID uuid.UUID, kind enums.AccountKind, currency enums.Currency) (*models.Wallet, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if kind == "" {
		kind = enums.AccountKindIndividual
	}
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	wallet, err := s.repo.FindByOwner(ctx, ownerID, kind, currency)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeWalletNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*MutationResult, error) {
	category := input.Category
	if category == "" {
		category = enums.TransactionCategoryCredit
	}
	result, err := s.credit(ctx, input, category)
	s.observe(string(category), err)
	return result, err
}

func (s *service) credit(ctx context.Context, input CreditInput, category enums.TransactionCategory) (*MutationResult, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	txType := input.Type
	if txType == "" {
		txType = enums.TransactionTypeDeposit
	}
	if !txType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type")
	}
	if !category.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction category")
	}

	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, input.WalletID)
		if err != nil {
			return err
		}
		if wallet.Status != enums.WalletStatusActive {
			return pkgerrors.New(pkgerrors.CodeWalletInactive, "wallet is not active")
		}

		if replay, err := s.replay(ctx, tx, wallet, input.IdempotencyKey, txType); err != nil || replay != nil {
			result = replay
			return err
		}

		repaid := min64(wallet.CreditUsedCents, input.AmountCents)
		balanceDelta := input.AmountCents - repaid
		balanceBefore := wallet.BalanceCents
		balanceAfter := balanceBefore + balanceDelta

		metadata := cloneMetadata(input.Metadata)
		metadata["grossAmountCents"] = input.AmountCents
		if repaid > 0 {
			metadata["creditRepaidCents"] = repaid
		}

		entry := &models.WalletTransaction{
			WalletID:           wallet.ID,
			OwnerID:            wallet.OwnerID,
			Type:               txType,
			Category:           category,
			AmountCents:        balanceDelta,
			BalanceBeforeCents: balanceBefore,
			BalanceAfterCents:  balanceAfter,
			Status:             enums.TransactionStatusCompleted,
			Reference:          orReference(input.Reference),
			ExternalReference:  input.ExternalReference,
			Description:        input.Description,
			Metadata:           metadata,
		}
		setKey(entry, input.IdempotencyKey)
		if err := s.insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		updates := map[string]any{
			"balance_cents":     balanceAfter,
			"credit_used_cents": wallet.CreditUsedCents - repaid,
		}
		if err := s.repo.WithTx(tx).Update(ctx, wallet.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balances")
		}
		wallet.BalanceCents = balanceAfter
		wallet.CreditUsedCents -= repaid

		if err := s.emitBalanceUpdated(ctx, tx, wallet, entry, input.Actor); err != nil {
			return err
		}
		if err := s.maybeEmitLowBalance(ctx, tx, wallet, input.Actor); err != nil {
			return err
		}

		result = &MutationResult{Wallet: wallet, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Debit(ctx context.Context, input DebitInput) (*MutationResult, error) {
	result, err := s.debit(ctx, input)
	s.observe(string(enums.TransactionCategoryDebit), err)
	return result, err
}

func (s *service) debit(ctx context.Context, input DebitInput) (*MutationResult, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}
	txType := input.Type
	if txType == "" {
		txType = enums.TransactionTypePayment
	}
	if !txType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction type")
	}

	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, input.WalletID)
		if err != nil {
			return err
		}
		if wallet.Status != enums.WalletStatusActive {
			return pkgerrors.New(pkgerrors.CodeWalletInactive, "wallet is not active")
		}

		if replay, err := s.replay(ctx, tx, wallet, input.IdempotencyKey, txType); err != nil || replay != nil {
			result = replay
			return err
		}

		available := wallet.AvailableCents()
		if input.AmountCents > available {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient available funds")
		}

		fromBalance := min64(wallet.BalanceCents, input.AmountCents)
		fromCredit := input.AmountCents - fromBalance
		balanceBefore := wallet.BalanceCents
		balanceAfter := balanceBefore - fromBalance

		metadata := cloneMetadata(input.Metadata)
		metadata["grossAmountCents"] = input.AmountCents
		if fromCredit > 0 {
			metadata["creditDrawnCents"] = fromCredit
		}

		entry := &models.WalletTransaction{
			WalletID:           wallet.ID,
			OwnerID:            wallet.OwnerID,
			Type:               txType,
			Category:           enums.TransactionCategoryDebit,
			AmountCents:        -fromBalance,
			BalanceBeforeCents: balanceBefore,
			BalanceAfterCents:  balanceAfter,
			Status:             enums.TransactionStatusCompleted,
			Reference:          orReference(input.Reference),
			ExternalReference:  input.ExternalReference,
			Description:        input.Description,
			Metadata:           metadata,
		}
		setKey(entry, input.IdempotencyKey)
		if err := s.insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		updates := map[string]any{
			"balance_cents":     balanceAfter,
			"credit_used_cents": wallet.CreditUsedCents + fromCredit,
		}
		if err := s.repo.WithTx(tx).Update(ctx, wallet.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balances")
		}
		wallet.BalanceCents = balanceAfter
		wallet.CreditUsedCents += fromCredit

		if err := s.emitBalanceUpdated(ctx, tx, wallet, entry, input.Actor); err != nil {
			return err
		}
		if err := s.maybeEmitLowBalance(ctx, tx, wallet, input.Actor); err != nil {
			return err
		}

		result = &MutationResult{Wallet: wallet, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Freeze(ctx context.Context, input HoldInput) (*MutationResult, error) {
	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.freeze(ctx, tx, input)
		return err
	})
	s.observe(string(enums.TransactionCategoryFreeze), err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) FreezeTx(ctx context.Context, tx *gorm.DB, input HoldInput) (*MutationResult, error) {
	result, err := s.freeze(ctx, tx, input)
	s.observe(string(enums.TransactionCategoryFreeze), err)
	return result, err
}

func (s *service) freeze(ctx context.Context, tx *gorm.DB, input HoldInput) (*MutationResult, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "freeze amount must be positive")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "freeze reason required")
	}

	wallet, err := s.lockWallet(ctx, tx, input.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet.Status != enums.WalletStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeWalletInactive, "wallet is not active")
	}

	if replay, err := s.replay(ctx, tx, wallet, input.IdempotencyKey, enums.TransactionTypeWithdrawal); err != nil || replay != nil {
		return replay, err
	}

	if input.AmountCents > wallet.BalanceCents {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient balance to freeze")
	}

	balanceBefore := wallet.BalanceCents
	balanceAfter := balanceBefore - input.AmountCents

	entry := &models.WalletTransaction{
		WalletID:           wallet.ID,
		OwnerID:            wallet.OwnerID,
		Type:               enums.TransactionTypeWithdrawal,
		Category:           enums.TransactionCategoryFreeze,
		AmountCents:        -input.AmountCents,
		BalanceBeforeCents: balanceBefore,
		BalanceAfterCents:  balanceAfter,
		Status:             enums.TransactionStatusCompleted,
		Reference:          orReference(input.Reference),
		Description:        input.Reason,
		Metadata:           types.JSONMap{"frozenCents": input.AmountCents},
	}
	setKey(entry, input.IdempotencyKey)
	if err := s.insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"balance_cents": balanceAfter,
		"frozen_cents":  wallet.FrozenCents + input.AmountCents,
	}
	if err := s.repo.WithTx(tx).Update(ctx, wallet.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balances")
	}
	wallet.BalanceCents = balanceAfter
	wallet.FrozenCents += input.AmountCents

	event := outbox.DomainEvent{
		EventType:     enums.EventWalletFundsFrozen,
		AggregateType: enums.AggregateWallet,
		AggregateID:   wallet.ID,
		Version:       1,
		Actor:         input.Actor,
		Data: payloads.WalletFundsFrozenEvent{
			WalletID:    wallet.ID,
			OwnerID:     wallet.OwnerID,
			AmountCents: input.AmountCents,
			FrozenCents: wallet.FrozenCents,
			Reference:   entry.Reference,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue funds frozen event")
	}

	return &MutationResult{Wallet: wallet, Entry: entry}, nil
}

func (s *service) Unfreeze(ctx context.Context, input HoldInput) (*MutationResult, error) {
	result, err := s.unfreeze(ctx, input)
	s.observe(string(enums.TransactionCategoryUnfreeze), err)
	return result, err
}

func (s *service) unfreeze(ctx context.Context, input HoldInput) (*MutationResult, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unfreeze amount must be positive")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unfreeze reason required")
	}

	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, input.WalletID)
		if err != nil {
			return err
		}

		if replay, err := s.replay(ctx, tx, wallet, input.IdempotencyKey, enums.TransactionTypeRefund); err != nil || replay != nil {
			result = replay
			return err
		}

		if input.AmountCents > wallet.FrozenCents {
			return pkgerrors.New(pkgerrors.CodeInsufficientFrozenFunds, "insufficient frozen funds")
		}

		balanceBefore := wallet.BalanceCents
		balanceAfter := balanceBefore + input.AmountCents

		entry := &models.WalletTransaction{
			WalletID:           wallet.ID,
			OwnerID:            wallet.OwnerID,
			Type:               enums.TransactionTypeRefund,
			Category:           enums.TransactionCategoryUnfreeze,
			AmountCents:        input.AmountCents,
			BalanceBeforeCents: balanceBefore,
			BalanceAfterCents:  balanceAfter,
			Status:             enums.TransactionStatusCompleted,
			Reference:          orReference(input.Reference),
			Description:        input.Reason,
			Metadata:           types.JSONMap{"unfrozenCents": input.AmountCents},
		}
		setKey(entry, input.IdempotencyKey)
		if err := s.insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		updates := map[string]any{
			"balance_cents": balanceAfter,
			"frozen_cents":  wallet.FrozenCents - input.AmountCents,
		}
		if err := s.repo.WithTx(tx).Update(ctx, wallet.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balances")
		}
		wallet.BalanceCents = balanceAfter
		wallet.FrozenCents -= input.AmountCents

		event := outbox.DomainEvent{
			EventType:     enums.EventWalletFundsUnfrozen,
			AggregateType: enums.AggregateWallet,
			AggregateID:   wallet.ID,
			Version:       1,
			Actor:         input.Actor,
			Data: payloads.WalletFundsUnfrozenEvent{
				WalletID:    wallet.ID,
				OwnerID:     wallet.OwnerID,
				AmountCents: input.AmountCents,
				FrozenCents: wallet.FrozenCents,
				Reference:   entry.Reference,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue funds unfrozen event")
		}

		result = &MutationResult{Wallet: wallet, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) AdjustBalance(ctx context.Context, input AdjustInput) (*MutationResult, error) {
	result, err := s.adjust(ctx, input)
	s.observe(string(enums.TransactionCategoryAdminAdjustment), err)
	return result, err
}

func (s *service) adjust(ctx context.Context, input AdjustInput) (*MutationResult, error) {
	if input.AmountCents == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment amount must be non-zero")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason required")
	}
	if input.AdjustedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}

	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, input.WalletID)
		if err != nil {
			return err
		}

		balanceBefore := wallet.BalanceCents
		balanceAfter := balanceBefore + input.AmountCents
		if balanceAfter < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "adjustment would make balance negative")
		}

		entry := &models.WalletTransaction{
			WalletID:           wallet.ID,
			OwnerID:            wallet.OwnerID,
			Type:               enums.TransactionTypeAdjustment,
			Category:           enums.TransactionCategoryAdminAdjustment,
			AmountCents:        input.AmountCents,
			BalanceBeforeCents: balanceBefore,
			BalanceAfterCents:  balanceAfter,
			Status:             enums.TransactionStatusCompleted,
			Reference:          orReference(""),
			Description:        input.Reason,
			Metadata:           types.JSONMap{"adjustedBy": input.AdjustedBy.String()},
		}
		if err := s.insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		if err := s.repo.WithTx(tx).Update(ctx, wallet.ID, map[string]any{"balance_cents": balanceAfter}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balances")
		}
		wallet.BalanceCents = balanceAfter

		actor := &outbox.ActorRef{UserID: input.AdjustedBy.String(), Role: "admin"}
		event := outbox.DomainEvent{
			EventType:     enums.EventWalletAdjusted,
			AggregateType: enums.AggregateWallet,
			AggregateID:   wallet.ID,
			Version:       1,
			Actor:         actor,
			Data: payloads.WalletAdjustedEvent{
				WalletID:    wallet.ID,
				OwnerID:     wallet.OwnerID,
				AmountCents: input.AmountCents,
				Reason:      input.Reason,
				AdjustedBy:  input.AdjustedBy,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue adjustment event")
		}

		result = &MutationResult{Wallet: wallet, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) SetCreditLimit(ctx context.Context, input SetCreditLimitInput) (*models.Wallet, error) {
	if input.NewLimitCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit limit must be non-negative")
	}
	if input.UpdatedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity missing")
	}

	var updated *models.Wallet
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, input.WalletID)
		if err != nil {
			return err
		}
		if input.NewLimitCents < wallet.CreditUsedCents {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "credit limit below outstanding credit")
		}

		note := fmt.Sprintf("credit limit %d -> %d by %s", wallet.CreditLimitCents, input.NewLimitCents, input.UpdatedBy)
		if input.Note != "" {
			note += ": " + input.Note
		}
		notes := note
		if wallet.AdminNotes != nil && *wallet.AdminNotes != "" {
			notes = *wallet.AdminNotes + "\n" + note
		}

		updates := map[string]any{
			"credit_limit_cents": input.NewLimitCents,
			"admin_notes":        notes,
		}
		if err := s.repo.WithTx(tx).Update(ctx, wallet.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update credit limit")
		}
		wallet.CreditLimitCents = input.NewLimitCents
		wallet.AdminNotes = &notes
		updated = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) SettleWithdrawal(ctx context.Context, input SettleWithdrawalInput) (*MutationResult, error) {
	result, err := s.settle(ctx, input)
	s.observe(string(enums.TransactionCategoryWithdrawalSettlement), err)
	return result, err
}

func (s *service) settle(ctx context.Context, input SettleWithdrawalInput) (*MutationResult, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "settlement amount must be positive")
	}

	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, input.WalletID)
		if err != nil {
			return err
		}

		if replay, err := s.replay(ctx, tx, wallet, input.IdempotencyKey, enums.TransactionTypeWithdrawal); err != nil || replay != nil {
			result = replay
			return err
		}

		if input.AmountCents > wallet.FrozenCents {
			return pkgerrors.New(pkgerrors.CodeInsufficientFrozenFunds, "insufficient frozen funds")
		}

		// Settlement burns frozen funds; the settled balance never moves.
		// Snapshots track the frozen bucket for this category.
		frozenBefore := wallet.FrozenCents
		frozenAfter := frozenBefore - input.AmountCents

		description := input.Description
		if description == "" {
			description = "withdrawal settlement"
		}

		entry := &models.WalletTransaction{
			WalletID:           wallet.ID,
			OwnerID:            wallet.OwnerID,
			Type:               enums.TransactionTypeWithdrawal,
			Category:           enums.TransactionCategoryWithdrawalSettlement,
			AmountCents:        -input.AmountCents,
			BalanceBeforeCents: frozenBefore,
			BalanceAfterCents:  frozenAfter,
			Status:             enums.TransactionStatusCompleted,
			Reference:          orReference(input.Reference),
			ExternalReference:  input.ExternalReference,
			Description:        description,
			Metadata:           types.JSONMap{"settledCents": input.AmountCents},
		}
		setKey(entry, input.IdempotencyKey)
		if err := s.insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		updates := map[string]any{
			"frozen_cents":          frozenAfter,
			"total_withdrawn_cents": wallet.TotalWithdrawnCents + input.AmountCents,
		}
		if err := s.repo.WithTx(tx).Update(ctx, wallet.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balances")
		}
		wallet.FrozenCents = frozenAfter
		wallet.TotalWithdrawnCents += input.AmountCents

		if err := s.emitBalanceUpdated(ctx, tx, wallet, entry, input.Actor); err != nil {
			return err
		}

		result = &MutationResult{Wallet: wallet, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) History(ctx context.Context, input ledger.HistoryInput) (*ledger.HistoryPage, error) {
	return s.history.History(ctx, input)
}

func (s *service) lockWallet(ctx context.Context, tx *gorm.DB, walletID uuid.UUID) (*models.Wallet, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id required")
	}
	wallet, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, walletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeWalletNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
	}
	return wallet, nil
}

// replay returns the already-applied mutation when the idempotency key was
// used before. The caller holds the wallet row lock, so a same-wallet retry
// always observes the earlier entry here.
func (s *service) replay(ctx context.Context, tx *gorm.DB, wallet *models.Wallet, key string, txType enums.TransactionType) (*MutationResult, error) {
	if key == "" {
		return nil, nil
	}
	existing, err := s.entries.WithTx(tx).FindByIdempotencyKey(ctx, key, txType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency lookup")
	}
	if existing == nil {
		return nil, nil
	}
	if existing.WalletID != wallet.ID {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key used by another wallet")
	}
	return &MutationResult{Wallet: wallet, Entry: existing, AlreadyApplied: true}, nil
}

func (s *service) insertEntry(ctx context.Context, tx *gorm.DB, entry *models.WalletTransaction) error {
	if err := s.entries.WithTx(tx).Create(ctx, entry); err != nil {
		if dbpkg.IsUniqueViolation(err, "uq_wallet_transactions_idem") {
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "idempotency key already used")
		}
		if dbpkg.IsUniqueViolation(err, "uq_wallet_transactions_reference") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "ledger reference already used")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write ledger entry")
	}
	return nil
}

func (s *service) emitBalanceUpdated(ctx context.Context, tx *gorm.DB, wallet *models.Wallet, entry *models.WalletTransaction, actor *outbox.ActorRef) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventWalletBalanceUpdated,
		AggregateType: enums.AggregateWallet,
		AggregateID:   wallet.ID,
		Version:       1,
		Actor:         actor,
		Data: payloads.WalletBalanceUpdatedEvent{
			WalletID:           wallet.ID,
			OwnerID:            wallet.OwnerID,
			TransactionID:      entry.ID,
			Type:               string(entry.Type),
			Category:           string(entry.Category),
			AmountCents:        entry.AmountCents,
			BalanceBeforeCents: entry.BalanceBeforeCents,
			BalanceAfterCents:  entry.BalanceAfterCents,
			AvailableCents:     wallet.AvailableCents(),
			Reference:          entry.Reference,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue balance event")
	}
	return nil
}

func (s *service) maybeEmitLowBalance(ctx context.Context, tx *gorm.DB, wallet *models.Wallet, actor *outbox.ActorRef) error {
	if s.cfg.LowBalanceThresholdCents <= 0 {
		return nil
	}
	available := wallet.AvailableCents()
	if available >= s.cfg.LowBalanceThresholdCents {
		return nil
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventWalletLowBalance,
		AggregateType: enums.AggregateWallet,
		AggregateID:   wallet.ID,
		Version:       1,
		Actor:         actor,
		Data: payloads.WalletLowBalanceEvent{
			WalletID:       wallet.ID,
			OwnerID:        wallet.OwnerID,
			AvailableCents: available,
			ThresholdCents: s.cfg.LowBalanceThresholdCents,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue low balance event")
	}
	return nil
}

func (s *service) observe(category string, err error) {
	if s.metrics == nil {
		return
	}
	if err == nil {
		s.metrics.IncOperation(category)
		return
	}
	var coded *pkgerrors.Error
	if errors.As(err, &coded) {
		s.metrics.IncFailure(category, string(coded.Code()))
		return
	}
	s.metrics.IncFailure(category, "UNKNOWN")
}

func orReference(reference string) string {
	if reference != "" {
		return reference
	}
	return "TXN-" + uuid.NewString()
}

func setKey(entry *models.WalletTransaction, key string) {
	if key == "" {
		return
	}
	value := key
	entry.IdempotencyKey = &value
}

func cloneMetadata(metadata types.JSONMap) types.JSONMap {
	clone := types.JSONMap{}
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
