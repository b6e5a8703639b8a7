package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/logger"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
	"github.com/mercanta/mercanta-backend/pkg/outbox/idempotency"
	"github.com/mercanta/mercanta-backend/pkg/outbox/payloads"
)

const ledgerNotificationConsumer = "ledger-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer watches domain events and turns balance, commission, and withdrawal
// transitions into in-app notifications.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds a ledger notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.handle(ctx, msg.ID, msg.Attributes, msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) handle(ctx context.Context, messageID string, attributes map[string]string, data []byte) processResult {
	eventType := attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	if !enums.OutboxEventType(eventType).IsValid() {
		c.logg.Info(logCtx, "skipping unknown event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, ledgerNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	notification, err := buildNotification(enums.OutboxEventType(eventType), envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, ledgerNotificationConsumer, eventID)
		return processResult{nack: true}
	}
	if notification == nil {
		c.logg.Info(logCtx, "event does not notify")
		return processResult{ack: true}
	}

	if err := c.repo.Create(ctx, notification); err != nil {
		c.logg.Error(logCtx, "failed to store notification", err)
		_ = c.idempotency.Delete(ctx, ledgerNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithFields(logCtx, map[string]any{
		"owner_id":          notification.OwnerID.String(),
		"notification_type": notification.Type,
	}), "owner notified")
	return processResult{ack: true}
}

// buildNotification maps a domain event payload onto an owner notification.
// A nil result with no error means the event carries nothing worth surfacing.
func buildNotification(eventType enums.OutboxEventType, data json.RawMessage) (*models.Notification, error) {
	switch eventType {
	case enums.EventWalletBalanceUpdated:
		var payload payloads.WalletBalanceUpdatedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return balanceNotification(payload), nil
	case enums.EventWalletLowBalance:
		var payload payloads.WalletLowBalanceEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OwnerID: payload.OwnerID,
			Type:    enums.NotificationWalletLowBalance,
			Title:   "Low balance warning",
			Message: fmt.Sprintf("Your available balance dropped to %s, below the %s threshold.", formatUSD(payload.AvailableCents), formatUSD(payload.ThresholdCents)),
			Link:    stringPtr("/wallet"),
		}, nil
	case enums.EventWalletFundsFrozen:
		var payload payloads.WalletFundsFrozenEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OwnerID: payload.OwnerID,
			Type:    enums.NotificationFundsFrozen,
			Title:   "Funds placed on hold",
			Message: fmt.Sprintf("%s was placed on hold (ref %s).", formatUSD(payload.AmountCents), payload.Reference),
			Link:    stringPtr("/wallet/transactions"),
		}, nil
	case enums.EventWalletFundsUnfrozen:
		var payload payloads.WalletFundsUnfrozenEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OwnerID: payload.OwnerID,
			Type:    enums.NotificationFundsUnfrozen,
			Title:   "Hold released",
			Message: fmt.Sprintf("%s on hold was returned to your balance (ref %s).", formatUSD(payload.AmountCents), payload.Reference),
			Link:    stringPtr("/wallet/transactions"),
		}, nil
	case enums.EventWalletAdjusted:
		var payload payloads.WalletAdjustedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return &models.Notification{
			OwnerID: payload.OwnerID,
			Type:    enums.NotificationWalletAdjusted,
			Title:   "Balance adjusted",
			Message: fmt.Sprintf("An administrator adjusted your balance by %s. Reason: %s", formatUSD(payload.AmountCents), payload.Reason),
			Link:    stringPtr("/wallet/transactions"),
		}, nil
	case enums.EventCommissionStatusChanged:
		var payload payloads.CommissionStatusChangedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return commissionNotification(payload), nil
	case enums.EventWithdrawalStatusChanged:
		var payload payloads.WithdrawalStatusChangedEvent
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return withdrawalNotification(payload), nil
	default:
		// Referral events feed agent dashboards, not the in-app inbox.
		return nil, nil
	}
}

func balanceNotification(payload payloads.WalletBalanceUpdatedEvent) *models.Notification {
	base := &models.Notification{
		OwnerID: payload.OwnerID,
		Link:    stringPtr("/wallet/transactions"),
	}
	switch enums.TransactionCategory(payload.Category) {
	case enums.TransactionCategoryCredit, enums.TransactionCategoryCommissionPayout, enums.TransactionCategoryRegistrationBonus:
		base.Type = enums.NotificationWalletCredited
		base.Title = "Wallet credited"
		base.Message = fmt.Sprintf("Your wallet was credited %s (ref %s).", formatUSD(payload.AmountCents), payload.Reference)
	case enums.TransactionCategoryDebit:
		base.Type = enums.NotificationWalletDebited
		base.Title = "Wallet debited"
		base.Message = fmt.Sprintf("Your wallet was debited %s (ref %s).", formatUSD(-payload.AmountCents), payload.Reference)
	default:
		// Settlements and holds already notify through their own events.
		return nil
	}
	return base
}

func commissionNotification(payload payloads.CommissionStatusChangedEvent) *models.Notification {
	base := &models.Notification{
		OwnerID: payload.AgentID,
		Link:    stringPtr(fmt.Sprintf("/commissions/%s", payload.CommissionID)),
	}
	amount := formatUSD(payload.AmountCents)
	switch enums.CommissionStatus(payload.NewStatus) {
	case enums.CommissionStatusPending:
		base.Type = enums.NotificationCommissionCreated
		base.Title = "Commission earned"
		base.Message = fmt.Sprintf("You earned a %s commission, pending review.", amount)
	case enums.CommissionStatusApproved:
		base.Type = enums.NotificationCommissionApproved
		base.Title = "Commission approved"
		base.Message = fmt.Sprintf("Your %s commission was approved for payout.", amount)
	case enums.CommissionStatusRejected:
		base.Type = enums.NotificationCommissionRejected
		base.Title = "Commission rejected"
		base.Message = fmt.Sprintf("Your %s commission was rejected.", amount)
	case enums.CommissionStatusPaid:
		base.Type = enums.NotificationCommissionPaid
		base.Title = "Commission paid"
		base.Message = fmt.Sprintf("Your %s commission was paid to your wallet (ref %s).", amount, payload.PaymentReference)
	default:
		return nil
	}
	return base
}

func withdrawalNotification(payload payloads.WithdrawalStatusChangedEvent) *models.Notification {
	base := &models.Notification{
		OwnerID: payload.OwnerID,
		Link:    stringPtr(fmt.Sprintf("/withdrawals/%s", payload.WithdrawalID)),
	}
	amount := formatUSD(payload.AmountCents)
	switch enums.WithdrawalStatus(payload.NewStatus) {
	case enums.WithdrawalStatusPending:
		base.Type = enums.NotificationWithdrawalRequested
		base.Title = "Withdrawal requested"
		base.Message = fmt.Sprintf("Your withdrawal of %s was received (ref %s).", amount, payload.Reference)
	case enums.WithdrawalStatusCompleted:
		base.Type = enums.NotificationWithdrawalCompleted
		base.Title = "Withdrawal completed"
		base.Message = fmt.Sprintf("Your withdrawal of %s was paid out (ref %s).", amount, payload.Reference)
	case enums.WithdrawalStatusRejected:
		base.Type = enums.NotificationWithdrawalRejected
		base.Title = "Withdrawal rejected"
		base.Message = fmt.Sprintf("Your withdrawal of %s was rejected. The held funds were returned to your balance.", amount)
	case enums.WithdrawalStatusFailed:
		base.Type = enums.NotificationWithdrawalFailed
		base.Title = "Withdrawal failed"
		base.Message = withdrawalFailureMessage(amount, payload.FailureReason)
	default:
		// Processing is transient and resolves into completed or failed.
		return nil
	}
	return base
}

func withdrawalFailureMessage(amount, reason string) string {
	message := fmt.Sprintf("Your withdrawal of %s failed. The held funds were returned to your balance.", amount)
	if reason != "" {
		message = fmt.Sprintf("%s Reason: %s", message, reason)
	}
	return message
}

func formatUSD(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

func stringPtr(value string) *string {
	return &value
}
