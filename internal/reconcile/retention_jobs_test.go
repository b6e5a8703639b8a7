package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/pkg/logger"
)

type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeOutboxRetention struct {
	cutoff  time.Time
	deleted int64
}

func (f *fakeOutboxRetention) DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, nil
}

type fakeNotificationRetention struct {
	cutoff  time.Time
	deleted int64
}

func (f *fakeNotificationRetention) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, nil
}

func TestOutboxRetentionUsesConfiguredWindow(t *testing.T) {
	repo := &fakeOutboxRetention{deleted: 12}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "reconcile-test"}),
		DB:            &fakeTxRunner{},
		Repository:    repo,
		RetentionDays: 7,
	})
	require.NoError(t, err)

	before := time.Now().UTC().Add(-7 * 24 * time.Hour)
	require.NoError(t, job.Run(context.Background()))
	assert.WithinDuration(t, before, repo.cutoff, time.Minute)
}

func TestNotificationCleanupDefaultsRetention(t *testing.T) {
	repo := &fakeNotificationRetention{deleted: 3}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "reconcile-test"}),
		Repository: repo,
	})
	require.NoError(t, err)

	before := time.Now().UTC().Add(-notificationRetentionDays * 24 * time.Hour)
	require.NoError(t, job.Run(context.Background()))
	assert.WithinDuration(t, before, repo.cutoff, time.Minute)
}
