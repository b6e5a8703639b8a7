package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
)

// Repository is a read-only view over vendor orders. The commerce service
// owns the rows; the settlement engines only ever read them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.VendorOrder, error)
	ListCompletedByBuyer(ctx context.Context, buyerUserID uuid.UUID, limit int) ([]models.VendorOrder, error)
}
