package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/internal/wallet"
	"github.com/mercanta/mercanta-backend/pkg/config"
	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	pkgerrors "github.com/mercanta/mercanta-backend/pkg/errors"
	"github.com/mercanta/mercanta-backend/pkg/logger"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
	"github.com/mercanta/mercanta-backend/pkg/outbox/payloads"
)

// Service runs the withdrawal state machine. Requested funds stay frozen in
// the wallet until the request settles or is reversed.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.WithdrawalRequest, error)
	Approve(ctx context.Context, input ReviewInput) (*models.WithdrawalRequest, error)
	Reject(ctx context.Context, input ReviewInput) (*models.WithdrawalRequest, error)
	Complete(ctx context.Context, input ResolveInput) (*models.WithdrawalRequest, error)
	Fail(ctx context.Context, input ResolveInput) (*models.WithdrawalRequest, error)
	Get(ctx context.Context, withdrawalID uuid.UUID) (*models.WithdrawalRequest, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.WithdrawalRequest, error)
	ListProcessing(ctx context.Context, limit int) ([]models.WithdrawalRequest, error)
}

type service struct {
	repo     Repository
	wallets  walletService
	payouts  PayoutProvider
	tx       txRunner
	outbox   outboxPublisher
	validate *validator.Validate
	logg     *logger.Logger
	cfg      config.WithdrawalConfig
}

// NewService builds the withdrawal engine with the required dependencies.
func NewService(
	repo Repository,
	wallets walletService,
	payouts PayoutProvider,
	tx txRunner,
	outboxSvc outboxPublisher,
	logg *logger.Logger,
	cfg config.WithdrawalConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("withdrawal repository required")
	}
	if wallets == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if payouts == nil {
		return nil, fmt.Errorf("payout provider required")
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
		repo:     repo,
		wallets:  wallets,
		payouts:  payouts,
		tx:       tx,
		outbox:   outboxSvc,
		validate: validator.New(),
		logg:     logg,
		cfg:      cfg,
	}, nil
}

// Request opens a withdrawal. The freeze and the request row share one
// transaction, so a crash mid-request rolls both back and can never leave
// funds held without a matching request.
func (s *service) Request(ctx context.Context, input RequestInput) (*models.WithdrawalRequest, error) {
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if input.AmountCents < s.cfg.MinAmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("withdrawal amount below minimum %d", s.cfg.MinAmountCents))
	}
	if err := s.validate.Struct(input.Bank); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid bank details")
	}

	ownerWallet, err := s.wallets.GetByOwner(ctx, input.OwnerID, enums.AccountKindIndividual, enums.CurrencyUSD)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New()
	reference := "WDR-" + uuid.NewString()

	request := &models.WithdrawalRequest{
		ID:            requestID,
		OwnerID:       input.OwnerID,
		WalletID:      ownerWallet.ID,
		AmountCents:   input.AmountCents,
		Currency:      ownerWallet.Currency,
		BankName:      input.Bank.BankName,
		AccountName:   input.Bank.AccountName,
		AccountNumber: input.Bank.AccountNumber,
		RoutingNumber: input.Bank.RoutingNumber,
		Status:        enums.WithdrawalStatusPending,
		Reference:     reference,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.wallets.FreezeTx(ctx, tx, wallet.HoldInput{
			WalletID:       ownerWallet.ID,
			AmountCents:    input.AmountCents,
			Reason:         "withdrawal request " + reference,
			IdempotencyKey: "withdrawal:freeze:" + requestID.String(),
		}); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create withdrawal request")
		}
		return s.emitStatusChanged(ctx, tx, request, "", "")
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Approve moves a pending request to processing and runs the payout. A
// transfer timeout leaves the request in processing because the downstream
// transfer may still have gone through; the resolver endpoints settle it
// once the outcome is known.
func (s *service) Approve(ctx context.Context, input ReviewInput) (*models.WithdrawalRequest, error) {
	if input.WithdrawalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id required")
	}
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "reviewer identity missing")
	}

	var request *models.WithdrawalRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := s.lockRequest(ctx, repo, input.WithdrawalID)
		if err != nil {
			return err
		}
		if locked.Status != enums.WithdrawalStatusPending {
			return pkgerrors.New(pkgerrors.CodeInvalidWithdrawalTransition,
				fmt.Sprintf("cannot approve withdrawal in status %s", locked.Status))
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":      enums.WithdrawalStatusProcessing,
			"reviewed_by": input.Actor,
			"reviewed_at": now,
		}
		if input.Note != "" {
			updates["admin_note"] = input.Note
		}
		if err := repo.Update(ctx, locked.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark withdrawal processing")
		}
		oldStatus := locked.Status
		locked.Status = enums.WithdrawalStatusProcessing
		locked.ReviewedBy = &input.Actor
		locked.ReviewedAt = &now
		request = locked
		return s.emitStatusChanged(ctx, tx, locked, oldStatus, "")
	})
	if err != nil {
		return nil, err
	}

	payoutCtx, cancel := context.WithTimeout(ctx, s.cfg.PayoutTimeout)
	defer cancel()

	payoutRef, payoutErr := s.runPayout(payoutCtx, request)
	if payoutErr != nil {
		if errors.Is(payoutErr, context.DeadlineExceeded) {
			// the transfer may have landed; leave processing for reconciliation
			s.logg.Error(s.logg.WithReference(ctx, request.Reference), "payout timed out, withdrawal left processing", payoutErr)
			return request, pkgerrors.Wrap(pkgerrors.CodePayoutFailed, payoutErr, "payout timed out")
		}
		return s.failProcessing(ctx, request, payoutErr.Error())
	}
	return s.completeProcessing(ctx, request, payoutRef)
}

// Reject releases the frozen funds and closes a pending request. The
// unfreeze runs first under an idempotency key so an interrupted reject can
// be retried safely.
func (s *service) Reject(ctx context.Context, input ReviewInput) (*models.WithdrawalRequest, error) {
	if input.WithdrawalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id required")
	}
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "reviewer identity missing")
	}
	if input.Note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection note required")
	}

	request, err := s.Get(ctx, input.WithdrawalID)
	if err != nil {
		return nil, err
	}
	if request.Status != enums.WithdrawalStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidWithdrawalTransition,
			fmt.Sprintf("cannot reject withdrawal in status %s", request.Status))
	}

	if _, err := s.wallets.Unfreeze(ctx, wallet.HoldInput{
		WalletID:       request.WalletID,
		AmountCents:    request.AmountCents,
		Reason:         "withdrawal rejected " + request.Reference,
		IdempotencyKey: "withdrawal:unfreeze:" + request.ID.String(),
	}); err != nil {
		return nil, err
	}

	var rejected *models.WithdrawalRequest
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := s.lockRequest(ctx, repo, request.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.WithdrawalStatusPending {
			return pkgerrors.New(pkgerrors.CodeInvalidWithdrawalTransition,
				fmt.Sprintf("cannot reject withdrawal in status %s", locked.Status))
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":      enums.WithdrawalStatusRejected,
			"reviewed_by": input.Actor,
			"reviewed_at": now,
			"admin_note":  input.Note,
		}
		if err := repo.Update(ctx, locked.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject withdrawal")
		}
		oldStatus := locked.Status
		locked.Status = enums.WithdrawalStatusRejected
		locked.ReviewedBy = &input.Actor
		locked.ReviewedAt = &now
		locked.AdminNote = &input.Note
		rejected = locked
		return s.emitStatusChanged(ctx, tx, locked, oldStatus, "")
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// Complete settles a processing request whose transfer is known to have
// succeeded out of band.
func (s *service) Complete(ctx context.Context, input ResolveInput) (*models.WithdrawalRequest, error) {
	if input.WithdrawalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id required")
	}

	request, err := s.Get(ctx, input.WithdrawalID)
	if err != nil {
		return nil, err
	}
	if request.Status != enums.WithdrawalStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidWithdrawalTransition,
			fmt.Sprintf("cannot complete withdrawal in status %s", request.Status))
	}
	return s.completeProcessing(ctx, request, input.PayoutReference)
}

// Fail reverses a processing request whose transfer is known to have
// failed out of band.
func (s *service) Fail(ctx context.Context, input ResolveInput) (*models.WithdrawalRequest, error) {
	if input.WithdrawalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id required")
	}
	if input.FailureReason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason required")
	}

	request, err := s.Get(ctx, input.WithdrawalID)
	if err != nil {
		return nil, err
	}
	if request.Status != enums.WithdrawalStatusProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidWithdrawalTransition,
			fmt.Sprintf("cannot fail withdrawal in status %s", request.Status))
	}
	failed, err := s.failProcessing(ctx, request, input.FailureReason)
	if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodePayoutFailed) {
		return nil, err
	}
	return failed, nil
}

func (s *service) Get(ctx context.Context, withdrawalID uuid.UUID) (*models.WithdrawalRequest, error) {
	if withdrawalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id required")
	}
	request, err := s.repo.FindByID(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeWithdrawalNotFound, "withdrawal request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load withdrawal request")
	}
	return request, nil
}

func (s *service) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.WithdrawalRequest, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.repo.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list withdrawal requests")
	}
	return rows, nil
}

func (s *service) ListProcessing(ctx context.Context, limit int) ([]models.WithdrawalRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.repo.ListByStatus(ctx, enums.WithdrawalStatusProcessing, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list processing withdrawals")
	}
	return rows, nil
}

func (s *service) runPayout(ctx context.Context, request *models.WithdrawalRequest) (string, error) {
	recipientRef, err := s.payouts.CreateRecipient(ctx, BankDetails{
		BankName:      request.BankName,
		AccountName:   request.AccountName,
		AccountNumber: request.AccountNumber,
		RoutingNumber: request.RoutingNumber,
	})
	if err != nil {
		return "", err
	}
	return s.payouts.Transfer(ctx, recipientRef, request.AmountCents, "withdrawal "+request.Reference)
}

func (s *service) completeProcessing(ctx context.Context, request *models.WithdrawalRequest, payoutRef string) (*models.WithdrawalRequest, error) {
	externalRef := payoutRef
	if _, err := s.wallets.SettleWithdrawal(ctx, wallet.SettleWithdrawalInput{
		WalletID:          request.WalletID,
		AmountCents:       request.AmountCents,
		ExternalReference: &externalRef,
		IdempotencyKey:    "withdrawal:settle:" + request.ID.String(),
		Description:       "withdrawal " + request.Reference,
	}); err != nil {
		return nil, err
	}

	var completed *models.WithdrawalRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := s.lockRequest(ctx, repo, request.ID)
		if err != nil {
			return err
		}
		if locked.Status == enums.WithdrawalStatusCompleted {
			completed = locked
			return nil
		}
		if locked.Status != enums.WithdrawalStatusProcessing {
			return pkgerrors.New(pkgerrors.CodeInvalidWithdrawalTransition,
				fmt.Sprintf("cannot complete withdrawal in status %s", locked.Status))
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":     enums.WithdrawalStatusCompleted,
			"settled_at": now,
		}
		if payoutRef != "" {
			updates["payout_reference"] = payoutRef
		}
		if err := repo.Update(ctx, locked.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete withdrawal")
		}
		oldStatus := locked.Status
		locked.Status = enums.WithdrawalStatusCompleted
		locked.SettledAt = &now
		if payoutRef != "" {
			locked.PayoutReference = &payoutRef
		}
		completed = locked
		return s.emitStatusChanged(ctx, tx, locked, oldStatus, "")
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

func (s *service) failProcessing(ctx context.Context, request *models.WithdrawalRequest, reason string) (*models.WithdrawalRequest, error) {
	if _, err := s.wallets.Unfreeze(ctx, wallet.HoldInput{
		WalletID:       request.WalletID,
		AmountCents:    request.AmountCents,
		Reason:         "withdrawal failed " + request.Reference,
		IdempotencyKey: "withdrawal:unfreeze:" + request.ID.String(),
	}); err != nil {
		return nil, err
	}

	var failed *models.WithdrawalRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := s.lockRequest(ctx, repo, request.ID)
		if err != nil {
			return err
		}
		if locked.Status == enums.WithdrawalStatusFailed {
			failed = locked
			return nil
		}
		if locked.Status != enums.WithdrawalStatusProcessing {
			return pkgerrors.New(pkgerrors.CodeInvalidWithdrawalTransition,
				fmt.Sprintf("cannot fail withdrawal in status %s", locked.Status))
		}

		updates := map[string]any{
			"status":         enums.WithdrawalStatusFailed,
			"failure_reason": reason,
		}
		if err := repo.Update(ctx, locked.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail withdrawal")
		}
		oldStatus := locked.Status
		locked.Status = enums.WithdrawalStatusFailed
		locked.FailureReason = &reason
		failed = locked
		return s.emitStatusChanged(ctx, tx, locked, oldStatus, reason)
	})
	if err != nil {
		return nil, err
	}
	return failed, pkgerrors.New(pkgerrors.CodePayoutFailed, reason)
}

func (s *service) lockRequest(ctx context.Context, repo Repository, id uuid.UUID) (*models.WithdrawalRequest, error) {
	locked, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeWithdrawalNotFound, "withdrawal request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock withdrawal request")
	}
	return locked, nil
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, request *models.WithdrawalRequest, oldStatus enums.WithdrawalStatus, failureReason string) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventWithdrawalStatusChanged,
		AggregateType: enums.AggregateWithdrawal,
		AggregateID:   request.ID,
		Version:       1,
		Data: payloads.WithdrawalStatusChangedEvent{
			WithdrawalID:  request.ID,
			OwnerID:       request.OwnerID,
			AmountCents:   request.AmountCents,
			OldStatus:     string(oldStatus),
			NewStatus:     string(request.Status),
			Reference:     request.Reference,
			FailureReason: failureReason,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue withdrawal event")
	}
	return nil
}
