package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/logger"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
	"github.com/mercanta/mercanta-backend/pkg/outbox/idempotency"
	"github.com/mercanta/mercanta-backend/pkg/outbox/payloads"
)

type fakeIdemStore struct {
	keys    map[string]string
	setNXE  error
	deletes []string
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{keys: map[string]string{}}
}

func (f *fakeIdemStore) Get(ctx context.Context, key string) (string, error) {
	return f.keys[key], nil
}

func (f *fakeIdemStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.setNXE != nil {
		return false, f.setNXE
	}
	if _, exists := f.keys[key]; exists {
		return false, nil
	}
	f.keys[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeIdemStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("mc:idempotency:%s:%s", scope, id)
}

func (f *fakeIdemStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
		f.deletes = append(f.deletes, key)
	}
	return nil
}

type consumerFixture struct {
	consumer *Consumer
	repo     *fakeRepository
	store    *fakeIdemStore
}

func newConsumerFixture(t *testing.T) *consumerFixture {
	t.Helper()
	store := newFakeIdemStore()
	manager, err := idempotency.NewManager(store, time.Hour)
	require.NoError(t, err)

	repo := &fakeRepository{}
	return &consumerFixture{
		consumer: &Consumer{
			repo:        repo,
			idempotency: manager,
			logg:        logger.New(logger.Options{ServiceName: "notifications-test"}),
		},
		repo:  repo,
		store: store,
	}
}

func envelopeBytes(t *testing.T, eventID uuid.UUID, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now(),
		Data:       data,
	})
	require.NoError(t, err)
	return raw
}

func attrs(eventType enums.OutboxEventType) map[string]string {
	return map[string]string{"event_type": string(eventType)}
}

func TestConsumerCreditEventNotifiesOwner(t *testing.T) {
	fix := newConsumerFixture(t)
	ownerID := uuid.New()
	body := envelopeBytes(t, uuid.New(), payloads.WalletBalanceUpdatedEvent{
		WalletID:    uuid.New(),
		OwnerID:     ownerID,
		AmountCents: 10_000,
		Category:    string(enums.TransactionCategoryCredit),
		Reference:   "TXN-1",
	})

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventWalletBalanceUpdated), body)

	assert.True(t, result.ack)
	require.Len(t, fix.repo.created, 1)
	created := fix.repo.created[0]
	assert.Equal(t, ownerID, created.OwnerID)
	assert.Equal(t, enums.NotificationWalletCredited, created.Type)
	assert.Contains(t, created.Message, "$100.00")
	assert.Contains(t, created.Message, "TXN-1")
}

func TestConsumerDebitEventReportsPositiveAmount(t *testing.T) {
	fix := newConsumerFixture(t)
	body := envelopeBytes(t, uuid.New(), payloads.WalletBalanceUpdatedEvent{
		OwnerID:     uuid.New(),
		AmountCents: -2_550,
		Category:    string(enums.TransactionCategoryDebit),
		Reference:   "TXN-2",
	})

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventWalletBalanceUpdated), body)

	assert.True(t, result.ack)
	require.Len(t, fix.repo.created, 1)
	assert.Equal(t, enums.NotificationWalletDebited, fix.repo.created[0].Type)
	assert.Contains(t, fix.repo.created[0].Message, "$25.50")
}

func TestConsumerSettlementCategoryDoesNotNotify(t *testing.T) {
	fix := newConsumerFixture(t)
	body := envelopeBytes(t, uuid.New(), payloads.WalletBalanceUpdatedEvent{
		OwnerID:     uuid.New(),
		AmountCents: -50_000,
		Category:    string(enums.TransactionCategoryWithdrawalSettlement),
	})

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventWalletBalanceUpdated), body)

	assert.True(t, result.ack)
	assert.Empty(t, fix.repo.created)
}

func TestConsumerDuplicateEventAcksOnce(t *testing.T) {
	fix := newConsumerFixture(t)
	eventID := uuid.New()
	body := envelopeBytes(t, eventID, payloads.WalletLowBalanceEvent{
		OwnerID:        uuid.New(),
		AvailableCents: 900,
		ThresholdCents: 1_000,
	})

	first := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventWalletLowBalance), body)
	second := fix.consumer.handle(context.Background(), "m1-redelivery", attrs(enums.EventWalletLowBalance), body)

	assert.True(t, first.ack)
	assert.True(t, second.ack)
	assert.Len(t, fix.repo.created, 1)
}

func TestConsumerRepoFailureNacksAndReleasesKey(t *testing.T) {
	fix := newConsumerFixture(t)
	fix.repo.createE = errors.New("connection reset")
	body := envelopeBytes(t, uuid.New(), payloads.WalletAdjustedEvent{
		OwnerID:     uuid.New(),
		AmountCents: 5_000,
		Reason:      "support credit",
		AdjustedBy:  uuid.New(),
	})

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventWalletAdjusted), body)

	assert.True(t, result.nack)
	require.NotEmpty(t, fix.store.deletes)

	fix.repo.createE = nil
	retry := fix.consumer.handle(context.Background(), "m1-redelivery", attrs(enums.EventWalletAdjusted), body)
	assert.True(t, retry.ack)
	assert.Len(t, fix.repo.created, 1)
}

func TestConsumerIdempotencyFailureNacks(t *testing.T) {
	fix := newConsumerFixture(t)
	fix.store.setNXE = errors.New("redis down")
	body := envelopeBytes(t, uuid.New(), payloads.WalletLowBalanceEvent{OwnerID: uuid.New()})

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventWalletLowBalance), body)

	assert.True(t, result.nack)
	assert.Empty(t, fix.repo.created)
}

func TestConsumerMalformedEnvelopeAcks(t *testing.T) {
	fix := newConsumerFixture(t)

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventWalletLowBalance), []byte("{not json"))

	assert.True(t, result.ack)
	assert.Empty(t, fix.repo.created)
}

func TestConsumerUnknownEventTypeAcks(t *testing.T) {
	fix := newConsumerFixture(t)

	result := fix.consumer.handle(context.Background(), "m1", map[string]string{"event_type": "orders.shipped"}, nil)

	assert.True(t, result.ack)
	assert.Empty(t, fix.repo.created)
}

func TestConsumerReferralEventsDoNotNotify(t *testing.T) {
	fix := newConsumerFixture(t)
	body := envelopeBytes(t, uuid.New(), payloads.ReferralTrackedEvent{
		ReferralID:     uuid.New(),
		AgentID:        uuid.New(),
		ReferredUserID: uuid.New(),
		Code:           "MC-AB12CD34",
	})

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventReferralTracked), body)

	assert.True(t, result.ack)
	assert.Empty(t, fix.repo.created)
}

func TestConsumerCommissionPaidNotifiesAgent(t *testing.T) {
	fix := newConsumerFixture(t)
	agentID := uuid.New()
	body := envelopeBytes(t, uuid.New(), payloads.CommissionStatusChangedEvent{
		CommissionID:     uuid.New(),
		AgentID:          agentID,
		AmountCents:      12_345,
		OldStatus:        string(enums.CommissionStatusApproved),
		NewStatus:        string(enums.CommissionStatusPaid),
		PaymentReference: "TXN-9",
	})

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventCommissionStatusChanged), body)

	assert.True(t, result.ack)
	require.Len(t, fix.repo.created, 1)
	created := fix.repo.created[0]
	assert.Equal(t, agentID, created.OwnerID)
	assert.Equal(t, enums.NotificationCommissionPaid, created.Type)
	assert.Contains(t, created.Message, "$123.45")
	assert.Contains(t, created.Message, "TXN-9")
}

func TestConsumerWithdrawalFailedIncludesReason(t *testing.T) {
	fix := newConsumerFixture(t)
	body := envelopeBytes(t, uuid.New(), payloads.WithdrawalStatusChangedEvent{
		WithdrawalID:  uuid.New(),
		OwnerID:       uuid.New(),
		AmountCents:   75_000,
		OldStatus:     string(enums.WithdrawalStatusProcessing),
		NewStatus:     string(enums.WithdrawalStatusFailed),
		Reference:     "WDR-1",
		FailureReason: "recipient account closed",
	})

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventWithdrawalStatusChanged), body)

	assert.True(t, result.ack)
	require.Len(t, fix.repo.created, 1)
	created := fix.repo.created[0]
	assert.Equal(t, enums.NotificationWithdrawalFailed, created.Type)
	assert.Contains(t, created.Message, "recipient account closed")
}

func TestConsumerWithdrawalProcessingDoesNotNotify(t *testing.T) {
	fix := newConsumerFixture(t)
	body := envelopeBytes(t, uuid.New(), payloads.WithdrawalStatusChangedEvent{
		WithdrawalID: uuid.New(),
		OwnerID:      uuid.New(),
		AmountCents:  75_000,
		OldStatus:    string(enums.WithdrawalStatusPending),
		NewStatus:    string(enums.WithdrawalStatusProcessing),
	})

	result := fix.consumer.handle(context.Background(), "m1", attrs(enums.EventWithdrawalStatusChanged), body)

	assert.True(t, result.ack)
	assert.Empty(t, fix.repo.created)
}
