package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mercanta/mercanta-backend/pkg/db/types"
	"github.com/mercanta/mercanta-backend/pkg/enums"
)

// Commission is an amount owed to an agent for a referral event. Purchase
// commissions are unique per order; the partial index lives in the
// migration since it needs a WHERE clause.
type Commission struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgentID     uuid.UUID              `gorm:"column:agent_id;type:uuid;not null;index:idx_commissions_agent"`
	ReferralID  *uuid.UUID             `gorm:"column:referral_id;type:uuid"`
	OrderID     *uuid.UUID             `gorm:"column:order_id;type:uuid"`
	Type        enums.CommissionType   `gorm:"column:type;type:commission_type;not null"`
	AmountCents int64                  `gorm:"column:amount_cents;not null"`
	Status      enums.CommissionStatus `gorm:"column:status;type:commission_status;not null;default:'pending'"`
	Description string                 `gorm:"column:description;not null"`
	Metadata    types.JSONMap          `gorm:"column:metadata;type:jsonb;serializer:json"`
	ApprovedAt  *time.Time             `gorm:"column:approved_at"`
	ApprovedBy  *uuid.UUID             `gorm:"column:approved_by;type:uuid"`
	RejectedAt  *time.Time             `gorm:"column:rejected_at"`
	RejectedBy  *uuid.UUID             `gorm:"column:rejected_by;type:uuid"`
	PaidAt      *time.Time             `gorm:"column:paid_at"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
