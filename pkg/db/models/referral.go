package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mercanta/mercanta-backend/pkg/enums"
)

// Referral links a referred user to the agent whose code they registered
// with. A user can be referred at most once.
type Referral struct {
	ID                   uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgentID              uuid.UUID            `gorm:"column:agent_id;type:uuid;not null;index:idx_referrals_agent"`
	ReferredUserID       uuid.UUID            `gorm:"column:referred_user_id;type:uuid;not null;uniqueIndex:uq_referrals_referred_user"`
	Code                 string               `gorm:"column:code;not null"`
	Status               enums.ReferralStatus `gorm:"column:status;type:referral_status;not null;default:'pending'"`
	TotalOrders          int                  `gorm:"column:total_orders;not null;default:0"`
	TotalOrderValueCents int64                `gorm:"column:total_order_value_cents;not null;default:0"`
	TotalCommissionCents int64                `gorm:"column:total_commission_cents;not null;default:0"`
	FirstPurchaseAt      *time.Time           `gorm:"column:first_purchase_at"`
	CreatedAt            time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
