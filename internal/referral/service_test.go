package referral

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/config"
	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	pkgerrors "github.com/mercanta/mercanta-backend/pkg/errors"
	"github.com/mercanta/mercanta-backend/pkg/logger"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
)

type fakeReferralRepo struct {
	referrals map[uuid.UUID]*models.Referral
	byUser    map[uuid.UUID]uuid.UUID
	profiles  map[uuid.UUID]*models.AgentProfile
}

func newFakeReferralRepo() *fakeReferralRepo {
	return &fakeReferralRepo{
		referrals: map[uuid.UUID]*models.Referral{},
		byUser:    map[uuid.UUID]uuid.UUID{},
		profiles:  map[uuid.UUID]*models.AgentProfile{},
	}
}

func (f *fakeReferralRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeReferralRepo) CreateReferral(ctx context.Context, referral *models.Referral) error {
	f.referrals[referral.ID] = referral
	f.byUser[referral.ReferredUserID] = referral.ID
	return nil
}

func (f *fakeReferralRepo) FindReferralByID(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	referral, ok := f.referrals[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return referral, nil
}

func (f *fakeReferralRepo) FindByReferredUser(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error) {
	id, ok := f.byUser[referredUserID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return f.referrals[id], nil
}

func (f *fakeReferralRepo) FindByReferredUserForUpdate(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error) {
	return f.FindByReferredUser(ctx, referredUserID)
}

func (f *fakeReferralRepo) UpdateReferral(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	referral, ok := f.referrals[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for column, value := range updates {
		switch column {
		case "status":
			referral.Status = value.(enums.ReferralStatus)
		case "first_purchase_at":
			stamp := value.(time.Time)
			referral.FirstPurchaseAt = &stamp
		case "total_orders":
			referral.TotalOrders = value.(int)
		case "total_order_value_cents":
			referral.TotalOrderValueCents = value.(int64)
		case "total_commission_cents":
			referral.TotalCommissionCents = value.(int64)
		}
	}
	return nil
}

func (f *fakeReferralRepo) ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Referral, error) {
	var rows []models.Referral
	for _, referral := range f.referrals {
		if referral.AgentID == agentID {
			rows = append(rows, *referral)
		}
	}
	return rows, nil
}

func (f *fakeReferralRepo) CreateProfile(ctx context.Context, profile *models.AgentProfile) error {
	f.profiles[profile.AgentID] = profile
	return nil
}

func (f *fakeReferralRepo) FindProfileByCode(ctx context.Context, code string) (*models.AgentProfile, error) {
	for _, profile := range f.profiles {
		if profile.ReferralCode == code {
			return profile, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeReferralRepo) FindProfileByAgent(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error) {
	profile, ok := f.profiles[agentID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return profile, nil
}

func (f *fakeReferralRepo) FindProfileByAgentForUpdate(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error) {
	return f.FindProfileByAgent(ctx, agentID)
}

func (f *fakeReferralRepo) UpdateProfile(ctx context.Context, agentID uuid.UUID, updates map[string]any) error {
	profile, ok := f.profiles[agentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for column, value := range updates {
		switch column {
		case "total_referrals":
			profile.TotalReferrals = value.(int)
		case "active_referrals":
			profile.ActiveReferrals = value.(int)
		case "tier":
			profile.Tier = value.(string)
		case "total_earned_cents":
			profile.TotalEarnedCents = value.(int64)
		case "pending_cents":
			profile.PendingCents = value.(int64)
		}
	}
	return nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeBonusGranter struct {
	calls int
}

func (f *fakeBonusGranter) GrantRegistrationBonus(ctx context.Context, tx *gorm.DB, agentID, referralID uuid.UUID) error {
	f.calls++
	return nil
}

func tierConfig() config.ReferralConfig {
	return config.ReferralConfig{
		TierThresholds: []int{2, 5},
		TierLabels:     []string{"standard", "bronze", "silver"},
	}
}

func newReferralFixture(t *testing.T, bonus BonusGranter) (Service, *fakeReferralRepo, *fakeOutbox) {
	t.Helper()

	repo := newFakeReferralRepo()
	sink := &fakeOutbox{}
	logg := logger.New(logger.Options{ServiceName: "referral-test"})

	svc, err := NewService(repo, fakeTxRunner{}, sink, bonus, logg, tierConfig())
	require.NoError(t, err)
	return svc, repo, sink
}

func seedProfile(repo *fakeReferralRepo, agentID uuid.UUID, code string, totalReferrals int) *models.AgentProfile {
	profile := &models.AgentProfile{
		ID:             uuid.New(),
		AgentID:        agentID,
		ReferralCode:   code,
		Tier:           "standard",
		TotalReferrals: totalReferrals,
	}
	repo.profiles[agentID] = profile
	return profile
}

func TestEnsureAgentProfileGeneratesCode(t *testing.T) {
	svc, _, _ := newReferralFixture(t, nil)
	agentID := uuid.New()

	profile, err := svc.EnsureAgentProfile(context.Background(), agentID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(profile.ReferralCode, "MC-"))
	assert.Equal(t, "standard", profile.Tier)

	again, err := svc.EnsureAgentProfile(context.Background(), agentID)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, again.ID)
}

func TestTrackReferralCreatesPendingAndBumpsTier(t *testing.T) {
	bonus := &fakeBonusGranter{}
	svc, repo, sink := newReferralFixture(t, bonus)

	agentID := uuid.New()
	// one referral away from the bronze threshold
	seedProfile(repo, agentID, "MC-TRADER01", 1)

	referral, err := svc.TrackReferral(context.Background(), TrackReferralInput{
		Code:           "mc-trader01",
		ReferredUserID: uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, enums.ReferralStatusPending, referral.Status)
	assert.Equal(t, agentID, referral.AgentID)
	assert.Equal(t, "MC-TRADER01", referral.Code)

	profile := repo.profiles[agentID]
	assert.Equal(t, 2, profile.TotalReferrals)
	assert.Equal(t, "bronze", profile.Tier)
	assert.Equal(t, 1, bonus.calls)

	require.Len(t, sink.events, 1)
	assert.Equal(t, enums.EventReferralTracked, sink.events[0].EventType)
}

func TestTrackReferralUnknownCode(t *testing.T) {
	svc, _, _ := newReferralFixture(t, nil)

	_, err := svc.TrackReferral(context.Background(), TrackReferralInput{
		Code:           "MC-NOPE",
		ReferredUserID: uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidReferralCode))
}

func TestTrackReferralSelfReferralRejected(t *testing.T) {
	svc, repo, _ := newReferralFixture(t, nil)

	agentID := uuid.New()
	seedProfile(repo, agentID, "MC-SELF0001", 0)

	_, err := svc.TrackReferral(context.Background(), TrackReferralInput{
		Code:           "MC-SELF0001",
		ReferredUserID: agentID,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSelfReferral))
}

func TestTrackReferralDuplicateUserRejected(t *testing.T) {
	svc, repo, _ := newReferralFixture(t, nil)

	seedProfile(repo, uuid.New(), "MC-AGENT001", 0)
	referredUserID := uuid.New()

	_, err := svc.TrackReferral(context.Background(), TrackReferralInput{
		Code:           "MC-AGENT001",
		ReferredUserID: referredUserID,
	})
	require.NoError(t, err)

	_, err = svc.TrackReferral(context.Background(), TrackReferralInput{
		Code:           "MC-AGENT001",
		ReferredUserID: referredUserID,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeAlreadyReferred))
}

func TestMarkReferralActiveIsIdempotent(t *testing.T) {
	svc, repo, sink := newReferralFixture(t, nil)

	agentID := uuid.New()
	seedProfile(repo, agentID, "MC-ACTIV001", 0)
	referredUserID := uuid.New()

	_, err := svc.TrackReferral(context.Background(), TrackReferralInput{
		Code:           "MC-ACTIV001",
		ReferredUserID: referredUserID,
	})
	require.NoError(t, err)

	orderID := uuid.New()
	require.NoError(t, svc.MarkReferralActive(context.Background(), ActivateInput{
		ReferredUserID: referredUserID,
		FirstOrderID:   &orderID,
	}))

	referral, err := svc.GetByReferredUser(context.Background(), referredUserID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReferralStatusActive, referral.Status)
	require.NotNil(t, referral.FirstPurchaseAt)
	assert.Equal(t, 1, repo.profiles[agentID].ActiveReferrals)

	eventsBefore := len(sink.events)
	require.NoError(t, svc.MarkReferralActive(context.Background(), ActivateInput{ReferredUserID: referredUserID}))
	assert.Len(t, sink.events, eventsBefore)
	assert.Equal(t, 1, repo.profiles[agentID].ActiveReferrals)
}

func TestMarkReferralActiveNoReferralIsNoOp(t *testing.T) {
	svc, _, sink := newReferralFixture(t, nil)

	require.NoError(t, svc.MarkReferralActive(context.Background(), ActivateInput{ReferredUserID: uuid.New()}))
	assert.Empty(t, sink.events)
}
