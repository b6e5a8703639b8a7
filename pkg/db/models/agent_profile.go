package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentProfile carries aggregate referral stats per agent. Counters are
// denormalized from referrals and commissions and updated in the same
// transaction that mutates the source rows.
type AgentProfile struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgentID             uuid.UUID `gorm:"column:agent_id;type:uuid;not null;uniqueIndex:uq_agent_profiles_agent"`
	ReferralCode        string    `gorm:"column:referral_code;not null;uniqueIndex:uq_agent_profiles_code"`
	Tier                string    `gorm:"column:tier;not null;default:'standard'"`
	TotalReferrals      int       `gorm:"column:total_referrals;not null;default:0"`
	ActiveReferrals     int       `gorm:"column:active_referrals;not null;default:0"`
	TotalEarnedCents    int64     `gorm:"column:total_earned_cents;not null;default:0"`
	PendingCents        int64     `gorm:"column:pending_cents;not null;default:0"`
	TotalWithdrawnCents int64     `gorm:"column:total_withdrawn_cents;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
