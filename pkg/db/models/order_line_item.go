package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLineItem is the per-item snapshot of a vendor order. DiscountPercent
// doubles as the commissionable rate for referral settlement.
type OrderLineItem struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID         uuid.UUID `gorm:"column:order_id;type:uuid;not null;index:idx_order_line_items_order"`
	Name            string    `gorm:"column:name;not null"`
	UnitPriceCents  int64     `gorm:"column:unit_price_cents;not null"`
	Qty             int       `gorm:"column:qty;not null"`
	DiscountPercent float64   `gorm:"column:discount_percent;not null;default:0"`
	TotalCents      int64     `gorm:"column:total_cents;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}
