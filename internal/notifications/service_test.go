package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	pkgerrors "github.com/mercanta/mercanta-backend/pkg/errors"
	"github.com/mercanta/mercanta-backend/pkg/pagination"
)

type fakeRepository struct {
	created       []*models.Notification
	createE       error
	listFn        func(params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
	markReadFn    func(ownerID, notificationID uuid.UUID) (notificationMarkResult, error)
	markAllReadFn func(ownerID uuid.UUID) (int64, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, notification *models.Notification) error {
	if f.createE != nil {
		return f.createE
	}
	f.created = append(f.created, notification)
	return nil
}

func (f *fakeRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	if f.listFn != nil {
		return f.listFn(params)
	}
	return nil, nil, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, ownerID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ownerID, notificationID)
	}
	return notificationMarkResult{}, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, ownerID uuid.UUID, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ownerID)
	}
	return 0, nil
}

func (f *fakeRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newServiceWithRepo(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(repo)
	require.NoError(t, err)
	return svc
}

func TestServiceListReturnsPageAndCursor(t *testing.T) {
	oldest := models.Notification{ID: uuid.New(), CreatedAt: time.Now().Add(-time.Hour)}
	newest := models.Notification{ID: uuid.New(), CreatedAt: time.Now()}

	repo := &fakeRepository{
		listFn: func(params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
			assert.Equal(t, pagination.LimitWithBuffer(1), params.Limit)
			return []models.Notification{newest}, &pagination.Cursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}, nil
		},
	}

	svc := newServiceWithRepo(t, repo)
	result, err := svc.List(context.Background(), ListParams{OwnerID: uuid.New(), Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.NotEmpty(t, result.Cursor)

	decoded, err := pagination.ParseCursor(result.Cursor)
	require.NoError(t, err)
	assert.Equal(t, oldest.ID, decoded.ID)
}

func TestServiceListRejectsInvalidCursor(t *testing.T) {
	svc := newServiceWithRepo(t, &fakeRepository{})

	_, err := svc.List(context.Background(), ListParams{OwnerID: uuid.New(), Cursor: "not-base64"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestServiceListRequiresOwner(t *testing.T) {
	svc := newServiceWithRepo(t, &fakeRepository{})

	_, err := svc.List(context.Background(), ListParams{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestServiceMarkRead(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ownerID, notificationID uuid.UUID) (notificationMarkResult, error) {
			return notificationMarkResult{Found: true, Updated: true}, nil
		},
	}

	svc := newServiceWithRepo(t, repo)
	require.NoError(t, svc.MarkRead(context.Background(), uuid.New(), uuid.New()))
}

func TestServiceMarkReadNotFound(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ownerID, notificationID uuid.UUID) (notificationMarkResult, error) {
			return notificationMarkResult{}, nil
		},
	}

	svc := newServiceWithRepo(t, repo)
	err := svc.MarkRead(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestServiceMarkAllRead(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ownerID uuid.UUID) (int64, error) {
			return 3, nil
		},
	}

	svc := newServiceWithRepo(t, repo)
	count, err := svc.MarkAllRead(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestServiceMarkAllReadWrapsRepoError(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ownerID uuid.UUID) (int64, error) {
			return 0, errors.New("connection reset")
		},
	}

	svc := newServiceWithRepo(t, repo)
	_, err := svc.MarkAllRead(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}
