package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/config"
	dbpkg "github.com/mercanta/mercanta-backend/pkg/db"
	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	pkgerrors "github.com/mercanta/mercanta-backend/pkg/errors"
	"github.com/mercanta/mercanta-backend/pkg/logger"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
	"github.com/mercanta/mercanta-backend/pkg/outbox/payloads"
)

// Service manages agent profiles and the referral lifecycle.
type Service interface {
	EnsureAgentProfile(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error)
	GetAgentProfile(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error)
	TrackReferral(ctx context.Context, input TrackReferralInput) (*models.Referral, error)
	MarkReferralActive(ctx context.Context, input ActivateInput) error
	GetByReferredUser(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Referral, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	bonus  BonusGranter
	logg   *logger.Logger
	cfg    config.ReferralConfig
}

// NewService builds the referral engine. The bonus granter may be nil when
// registration bonuses are disabled.
func NewService(
	repo Repository,
	tx txRunner,
	outboxSvc outboxPublisher,
	bonus BonusGranter,
	logg *logger.Logger,
	cfg config.ReferralConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("referral repository required")
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
		repo:   repo,
		tx:     tx,
		outbox: outboxSvc,
		bonus:  bonus,
		logg:   logg,
		cfg:    cfg,
	}, nil
}

func (s *service) EnsureAgentProfile(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}

	existing, err := s.repo.FindProfileByAgent(ctx, agentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent profile")
	}

	profile := &models.AgentProfile{
		ID:           uuid.New(),
		AgentID:      agentID,
		ReferralCode: newReferralCode(),
		Tier:         s.cfg.TierFor(0),
	}
	if err := s.repo.CreateProfile(ctx, profile); err != nil {
		if dbpkg.IsUniqueViolation(err, "uq_agent_profiles_agent") {
			return s.repo.FindProfileByAgent(ctx, agentID)
		}
		if dbpkg.IsUniqueViolation(err, "uq_agent_profiles_code") {
			// regenerate once on a code collision
			profile.ReferralCode = newReferralCode()
			if retryErr := s.repo.CreateProfile(ctx, profile); retryErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, retryErr, "create agent profile")
			}
			return profile, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create agent profile")
	}
	return profile, nil
}

func (s *service) GetAgentProfile(ctx context.Context, agentID uuid.UUID) (*models.AgentProfile, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	profile, err := s.repo.FindProfileByAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agent profile not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load agent profile")
	}
	return profile, nil
}

func (s *service) TrackReferral(ctx context.Context, input TrackReferralInput) (*models.Referral, error) {
	code := strings.TrimSpace(strings.ToUpper(input.Code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referral code required")
	}
	if input.ReferredUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referred user id required")
	}

	var referral *models.Referral
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		profile, err := repo.FindProfileByCode(ctx, code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeInvalidReferralCode, "referral code not recognized")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve referral code")
		}
		if profile.AgentID == input.ReferredUserID {
			return pkgerrors.New(pkgerrors.CodeSelfReferral, "agents cannot refer themselves")
		}

		if _, err := repo.FindByReferredUser(ctx, input.ReferredUserID); err == nil {
			return pkgerrors.New(pkgerrors.CodeAlreadyReferred, "user already has a referral")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing referral")
		}

		referral = &models.Referral{
			ID:             uuid.New(),
			AgentID:        profile.AgentID,
			ReferredUserID: input.ReferredUserID,
			Code:           code,
			Status:         enums.ReferralStatusPending,
		}
		if err := repo.CreateReferral(ctx, referral); err != nil {
			if dbpkg.IsUniqueViolation(err, "uq_referrals_referred_user") {
				return pkgerrors.New(pkgerrors.CodeAlreadyReferred, "user already has a referral")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create referral")
		}

		locked, err := repo.FindProfileByAgentForUpdate(ctx, profile.AgentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock agent profile")
		}
		total := locked.TotalReferrals + 1
		updates := map[string]any{
			"total_referrals": total,
			"tier":            s.cfg.TierFor(total),
		}
		if err := repo.UpdateProfile(ctx, profile.AgentID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent counters")
		}

		if s.bonus != nil {
			if err := s.bonus.GrantRegistrationBonus(ctx, tx, profile.AgentID, referral.ID); err != nil {
				return err
			}
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventReferralTracked,
			AggregateType: enums.AggregateReferral,
			AggregateID:   referral.ID,
			Version:       1,
			Data: payloads.ReferralTrackedEvent{
				ReferralID:     referral.ID,
				AgentID:        profile.AgentID,
				ReferredUserID: input.ReferredUserID,
				Code:           code,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue referral tracked event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAgentID(ctx, referral.AgentID.String()), "referral tracked")
	return referral, nil
}

func (s *service) MarkReferralActive(ctx context.Context, input ActivateInput) error {
	if input.ReferredUserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "referred user id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		referral, err := repo.FindByReferredUserForUpdate(ctx, input.ReferredUserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral")
		}
		if referral.Status != enums.ReferralStatusPending {
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":            enums.ReferralStatusActive,
			"first_purchase_at": now,
		}
		if err := repo.UpdateReferral(ctx, referral.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate referral")
		}

		locked, err := repo.FindProfileByAgentForUpdate(ctx, referral.AgentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock agent profile")
		}
		if err := repo.UpdateProfile(ctx, referral.AgentID, map[string]any{
			"active_referrals": locked.ActiveReferrals + 1,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update agent counters")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventReferralActivated,
			AggregateType: enums.AggregateReferral,
			AggregateID:   referral.ID,
			Version:       1,
			Data: payloads.ReferralActivatedEvent{
				ReferralID:     referral.ID,
				AgentID:        referral.AgentID,
				ReferredUserID: referral.ReferredUserID,
				FirstOrderID:   input.FirstOrderID,
				ActivatedAt:    now,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue referral activated event")
		}
		return nil
	})
}

func (s *service) GetByReferredUser(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error) {
	if referredUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referred user id required")
	}
	referral, err := s.repo.FindByReferredUser(ctx, referredUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "referral not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral")
	}
	return referral, nil
}

func (s *service) ListByAgent(ctx context.Context, agentID uuid.UUID, limit int) ([]models.Referral, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.repo.ListByAgent(ctx, agentID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list referrals")
	}
	return rows, nil
}

func newReferralCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "MC-" + strings.ToUpper(raw[:8])
}
