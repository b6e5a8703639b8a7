package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/internal/orders"
	"github.com/mercanta/mercanta-backend/internal/referral"
	"github.com/mercanta/mercanta-backend/internal/wallet"
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

// Service computes, reviews, and pays referral commissions.
type Service interface {
	CalculatePurchaseCommission(ctx context.Context, input CalculateInput) (*models.Commission, error)
	Approve(ctx context.Context, input ReviewInput) (*models.Commission, error)
	Reject(ctx context.Context, input ReviewInput) (*models.Commission, error)
	Pay(ctx context.Context, commissionID uuid.UUID) (*models.Commission, error)
	RequestBulkPayout(ctx context.Context, agentID uuid.UUID) (*BulkPayoutResult, error)
	Get(ctx context.Context, commissionID uuid.UUID) (*models.Commission, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, status *enums.CommissionStatus, limit int) ([]models.Commission, error)

	// GrantRegistrationBonus implements referral.BonusGranter.
	GrantRegistrationBonus(ctx context.Context, tx *gorm.DB, agentID, referralID uuid.UUID) error
}

type service struct {
	repo      Repository
	orders    orders.Repository
	referrals referral.Repository
	wallets   walletService
	tx        txRunner
	outbox    outboxPublisher
	logg      *logger.Logger
	cfg       config.CommissionConfig
}

// NewService builds the commission engine with the required dependencies.
func NewService(
	repo Repository,
	orderRepo orders.Repository,
	referralRepo referral.Repository,
	wallets walletService,
	tx txRunner,
	outboxSvc outboxPublisher,
	logg *logger.Logger,
	cfg config.CommissionConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if referralRepo == nil {
		return nil, fmt.Errorf("referral repository required")
	}
	if wallets == nil {
		return nil, fmt.Errorf("wallet service required")
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
		repo:      repo,
		orders:    orderRepo,
		referrals: referralRepo,
		wallets:   wallets,
		tx:        tx,
		outbox:    outboxSvc,
		logg:      logg,
		cfg:       cfg,
	}, nil
}

// CalculatePurchaseCommission settles one completed order. It is a no-op
// when the buyer was never referred or when no line item carries a
// discount, and idempotent per order otherwise.
func (s *service) CalculatePurchaseCommission(ctx context.Context, input CalculateInput) (*models.Commission, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ReferredUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referred user id required")
	}

	ref, err := s.referrals.FindByReferredUser(ctx, input.ReferredUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral")
	}

	if existing, err := s.repo.FindPurchaseByOrder(ctx, input.OrderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing commission")
	}

	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status != enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot settle commission for order in status %s", order.Status))
	}
	if order.BuyerUserID != input.ReferredUserID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order buyer does not match referred user")
	}

	amount := commissionFromItems(order.Items)
	if amount <= 0 {
		return nil, nil
	}

	autoApproved := s.cfg.AutoApprove && amount <= s.cfg.AutoApproveCeilingCents
	orderID := order.ID
	referralID := ref.ID

	commission := &models.Commission{
		ID:          uuid.New(),
		AgentID:     ref.AgentID,
		ReferralID:  &referralID,
		OrderID:     &orderID,
		Type:        enums.CommissionTypePurchase,
		AmountCents: amount,
		Status:      enums.CommissionStatusPending,
		Description: fmt.Sprintf("purchase commission for order %s", order.ID),
		Metadata: types.JSONMap{
			"orderValueCents": order.TotalCents,
			"autoApproved":    autoApproved,
		},
	}
	if autoApproved {
		now := time.Now().UTC()
		commission.Status = enums.CommissionStatusApproved
		commission.ApprovedAt = &now
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		referrals := s.referrals.WithTx(tx)

		if err := repo.Create(ctx, commission); err != nil {
			if dbpkg.IsUniqueViolation(err, "uq_commissions_order_purchase") {
				existing, findErr := repo.FindPurchaseByOrder(ctx, input.OrderID)
				if findErr != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load existing commission")
				}
				commission = existing
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create commission")
		}

		locked, err := referrals.FindByReferredUserForUpdate(ctx, input.ReferredUserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock referral")
		}
		updates := map[string]any{
			"total_orders":            locked.TotalOrders + 1,
			"total_order_value_cents": locked.TotalOrderValueCents + order.TotalCents,
			"total_commission_cents":  locked.TotalCommissionCents + amount,
		}
		firstPurchase := locked.Status == enums.ReferralStatusPending
		if firstPurchase {
			now := time.Now().UTC()
			updates["status"] = enums.ReferralStatusActive
			updates["first_purchase_at"] = now
		}
		if err := referrals.UpdateReferral(ctx, locked.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update referral metrics")
		}

		profile, err := referrals.FindProfileByAgentForUpdate(ctx, ref.AgentID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock agent profile")
		}
		if err == nil {
			profileUpdates := map[string]any{
				"pending_cents": profile.PendingCents + amount,
			}
			if firstPurchase {
				profileUpdates["active_referrals"] = profile.ActiveReferrals + 1
			}
			if err := referrals.UpdateProfile(ctx, ref.AgentID, profileUpdates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent counters")
			}
		}

		if firstPurchase {
			event := outbox.DomainEvent{
				EventType:     enums.EventReferralActivated,
				AggregateType: enums.AggregateReferral,
				AggregateID:   locked.ID,
				Version:       1,
				Data: payloads.ReferralActivatedEvent{
					ReferralID:     locked.ID,
					AgentID:        locked.AgentID,
					ReferredUserID: locked.ReferredUserID,
					FirstOrderID:   &orderID,
					ActivatedAt:    time.Now().UTC(),
				},
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue referral activated event")
			}
		}

		return s.emitStatusChanged(ctx, tx, commission, "", "")
	})
	if err != nil {
		return nil, err
	}

	if commission.Status == enums.CommissionStatusApproved && autoApproved {
		paid, payErr := s.Pay(ctx, commission.ID)
		if payErr != nil {
			// the commission stays approved and is retryable via Pay or
			// the next bulk payout
			s.logg.Error(s.logg.WithAgentID(ctx, commission.AgentID.String()), "auto-approved commission payout deferred", payErr)
			return commission, nil
		}
		return paid, nil
	}
	return commission, nil
}

func (s *service) Approve(ctx context.Context, input ReviewInput) (*models.Commission, error) {
	if input.CommissionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission id required")
	}
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "reviewer identity missing")
	}

	var commission *models.Commission
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := s.lockCommission(ctx, repo, input.CommissionID)
		if err != nil {
			return err
		}
		if locked.Status != enums.CommissionStatusPending {
			return pkgerrors.New(pkgerrors.CodeInvalidCommissionTransition,
				fmt.Sprintf("cannot approve commission in status %s", locked.Status))
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":      enums.CommissionStatusApproved,
			"approved_at": now,
			"approved_by": input.Actor,
		}
		if err := repo.Update(ctx, locked.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve commission")
		}
		oldStatus := locked.Status
		locked.Status = enums.CommissionStatusApproved
		locked.ApprovedAt = &now
		locked.ApprovedBy = &input.Actor
		commission = locked

		return s.emitStatusChanged(ctx, tx, locked, oldStatus, "")
	})
	if err != nil {
		return nil, err
	}
	return commission, nil
}

func (s *service) Reject(ctx context.Context, input ReviewInput) (*models.Commission, error) {
	if input.CommissionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission id required")
	}
	if input.Actor == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "reviewer identity missing")
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
	}

	var commission *models.Commission
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		referrals := s.referrals.WithTx(tx)

		locked, err := s.lockCommission(ctx, repo, input.CommissionID)
		if err != nil {
			return err
		}
		if locked.Status != enums.CommissionStatusPending {
			return pkgerrors.New(pkgerrors.CodeInvalidCommissionTransition,
				fmt.Sprintf("cannot reject commission in status %s", locked.Status))
		}

		now := time.Now().UTC()
		metadata := cloneMetadata(locked.Metadata)
		metadata["rejectionReason"] = input.Reason
		updates := map[string]any{
			"status":      enums.CommissionStatusRejected,
			"rejected_at": now,
			"rejected_by": input.Actor,
			"metadata":    metadata,
		}
		if err := repo.Update(ctx, locked.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject commission")
		}

		profile, err := referrals.FindProfileByAgentForUpdate(ctx, locked.AgentID)
		if err == nil {
			if err := referrals.UpdateProfile(ctx, locked.AgentID, map[string]any{
				"pending_cents": profile.PendingCents - locked.AmountCents,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent counters")
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock agent profile")
		}

		oldStatus := locked.Status
		locked.Status = enums.CommissionStatusRejected
		locked.RejectedAt = &now
		locked.RejectedBy = &input.Actor
		locked.Metadata = metadata
		commission = locked

		return s.emitStatusChanged(ctx, tx, locked, oldStatus, "")
	})
	if err != nil {
		return nil, err
	}
	return commission, nil
}

// Pay credits the agent wallet and stamps the commission paid. The wallet
// credit is keyed on the commission id, so a retry after a crash between
// the credit and the status update replays cleanly.
func (s *service) Pay(ctx context.Context, commissionID uuid.UUID) (*models.Commission, error) {
	if commissionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission id required")
	}

	commission, err := s.repo.FindByID(ctx, commissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeCommissionNotFound, "commission not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission")
	}
	if commission.Status == enums.CommissionStatusPaid {
		return commission, nil
	}
	if commission.Status != enums.CommissionStatusApproved {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCommissionTransition,
			fmt.Sprintf("cannot pay commission in status %s", commission.Status))
	}

	agentWallet, err := s.wallets.EnsureWallet(ctx, wallet.EnsureWalletInput{
		OwnerID: commission.AgentID,
		Kind:    enums.AccountKindAgent,
	})
	if err != nil {
		return nil, err
	}

	creditResult, err := s.wallets.Credit(ctx, wallet.CreditInput{
		WalletID:       agentWallet.ID,
		AmountCents:    commission.AmountCents,
		Type:           enums.TransactionTypeCommission,
		Category:       enums.TransactionCategoryCommissionPayout,
		Description:    commission.Description,
		IdempotencyKey: "commission:" + commission.ID.String(),
		Metadata:       types.JSONMap{"commissionId": commission.ID.String()},
	})
	if err != nil {
		return nil, err
	}
	paymentReference := creditResult.Entry.Reference

	var paid *models.Commission
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		referrals := s.referrals.WithTx(tx)

		locked, err := s.lockCommission(ctx, repo, commission.ID)
		if err != nil {
			return err
		}
		if locked.Status == enums.CommissionStatusPaid {
			paid = locked
			return nil
		}
		if locked.Status != enums.CommissionStatusApproved {
			return pkgerrors.New(pkgerrors.CodeInvalidCommissionTransition,
				fmt.Sprintf("cannot pay commission in status %s", locked.Status))
		}

		now := time.Now().UTC()
		metadata := cloneMetadata(locked.Metadata)
		metadata["paymentReference"] = paymentReference
		updates := map[string]any{
			"status":   enums.CommissionStatusPaid,
			"paid_at":  now,
			"metadata": metadata,
		}
		if err := repo.Update(ctx, locked.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark commission paid")
		}

		profile, err := referrals.FindProfileByAgentForUpdate(ctx, locked.AgentID)
		if err == nil {
			if err := referrals.UpdateProfile(ctx, locked.AgentID, map[string]any{
				"total_earned_cents": profile.TotalEarnedCents + locked.AmountCents,
				"pending_cents":      profile.PendingCents - locked.AmountCents,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent counters")
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock agent profile")
		}

		oldStatus := locked.Status
		locked.Status = enums.CommissionStatusPaid
		locked.PaidAt = &now
		locked.Metadata = metadata
		paid = locked

		return s.emitStatusChanged(ctx, tx, locked, oldStatus, paymentReference)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// RequestBulkPayout pays every approved commission for the agent. Payments
// run one wallet mutation at a time; a failure skips that commission and
// the run continues.
func (s *service) RequestBulkPayout(ctx context.Context, agentID uuid.UUID) (*BulkPayoutResult, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}

	approved, err := s.repo.ListApprovedByAgent(ctx, agentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list approved commissions")
	}
	if len(approved) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNoApprovedCommissions, "no approved commissions for agent")
	}

	var total int64
	for _, commission := range approved {
		total += commission.AmountCents
	}
	if total < s.cfg.MinBulkPayoutCents {
		return nil, pkgerrors.New(pkgerrors.CodeBelowMinimumPayout,
			fmt.Sprintf("approved total %d below minimum %d", total, s.cfg.MinBulkPayoutCents))
	}

	result := &BulkPayoutResult{RequestedCount: len(approved)}
	for _, commission := range approved {
		paid, payErr := s.Pay(ctx, commission.ID)
		if payErr != nil {
			result.Failures = multierr.Append(result.Failures,
				fmt.Errorf("commission %s: %w", commission.ID, payErr))
			continue
		}
		result.PaidCount++
		result.TotalPaidCents += paid.AmountCents
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"agent_id":  agentID.String(),
		"requested": result.RequestedCount,
		"paid":      result.PaidCount,
		"total":     result.TotalPaidCents,
	})
	s.logg.Info(logCtx, "bulk payout finished")
	return result, nil
}

func (s *service) Get(ctx context.Context, commissionID uuid.UUID) (*models.Commission, error) {
	if commissionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission id required")
	}
	commission, err := s.repo.FindByID(ctx, commissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeCommissionNotFound, "commission not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission")
	}
	return commission, nil
}

func (s *service) ListByAgent(ctx context.Context, agentID uuid.UUID, status *enums.CommissionStatus, limit int) ([]models.Commission, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.repo.ListByAgent(ctx, agentID, status, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list commissions")
	}
	return rows, nil
}

// GrantRegistrationBonus creates a registration commission inside the
// caller's transaction. The bonus is paid later through the regular payout
// path, never inline.
func (s *service) GrantRegistrationBonus(ctx context.Context, tx *gorm.DB, agentID, referralID uuid.UUID) error {
	if s.cfg.RegistrationBonusCents <= 0 {
		return nil
	}

	repo := s.repo.WithTx(tx)
	referrals := s.referrals.WithTx(tx)

	amount := s.cfg.RegistrationBonusCents
	autoApproved := s.cfg.AutoApprove && amount <= s.cfg.AutoApproveCeilingCents

	commission := &models.Commission{
		ID:          uuid.New(),
		AgentID:     agentID,
		ReferralID:  &referralID,
		Type:        enums.CommissionTypeRegistration,
		AmountCents: amount,
		Status:      enums.CommissionStatusPending,
		Description: "registration bonus",
		Metadata:    types.JSONMap{"autoApproved": autoApproved},
	}
	if autoApproved {
		now := time.Now().UTC()
		commission.Status = enums.CommissionStatusApproved
		commission.ApprovedAt = &now
	}
	if err := repo.Create(ctx, commission); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create registration bonus")
	}

	profile, err := referrals.FindProfileByAgentForUpdate(ctx, agentID)
	if err == nil {
		if err := referrals.UpdateProfile(ctx, agentID, map[string]any{
			"pending_cents": profile.PendingCents + amount,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent counters")
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock agent profile")
	}

	return s.emitStatusChanged(ctx, tx, commission, "", "")
}

func (s *service) lockCommission(ctx context.Context, repo Repository, id uuid.UUID) (*models.Commission, error) {
	locked, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeCommissionNotFound, "commission not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock commission")
	}
	return locked, nil
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, commission *models.Commission, oldStatus enums.CommissionStatus, paymentReference string) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventCommissionStatusChanged,
		AggregateType: enums.AggregateCommission,
		AggregateID:   commission.ID,
		Version:       1,
		Data: payloads.CommissionStatusChangedEvent{
			CommissionID:     commission.ID,
			AgentID:          commission.AgentID,
			Type:             string(commission.Type),
			AmountCents:      commission.AmountCents,
			OldStatus:        string(oldStatus),
			NewStatus:        string(commission.Status),
			PaymentReference: paymentReference,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue commission event")
	}
	return nil
}

// commissionFromItems sums unitPrice * qty * discountPercent / 100 over the
// discounted line items, rounded to the nearest cent.
func commissionFromItems(items []models.OrderLineItem) int64 {
	total := decimal.Zero
	for _, item := range items {
		if item.DiscountPercent <= 0 {
			continue
		}
		contribution := decimal.NewFromInt(item.UnitPriceCents).
			Mul(decimal.NewFromInt(int64(item.Qty))).
			Mul(decimal.NewFromFloat(item.DiscountPercent)).
			Div(decimal.NewFromInt(100))
		total = total.Add(contribution)
	}
	return total.Round(0).IntPart()
}

func cloneMetadata(metadata types.JSONMap) types.JSONMap {
	clone := types.JSONMap{}
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}
