package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLock_AcquireRelease(t *testing.T) {
	db, mock := newMockDB(t)
	lock := NewAdvisoryLock(db)
	ctx := context.Background()
	id := hashLockName("fulfillment-poller")

	mock.ExpectQuery("pg_try_advisory_lock").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery("pg_advisory_unlock").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	acquired, err := lock.Acquire(ctx, "fulfillment-poller", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Held by this instance: no second round trip.
	again, err := lock.Acquire(ctx, "fulfillment-poller", time.Minute)
	require.NoError(t, err)
	assert.False(t, again)
	assert.NoError(t, lock.Extend(ctx, "fulfillment-poller", time.Minute))

	require.NoError(t, lock.Release(ctx, "fulfillment-poller"))
	assert.Error(t, lock.Extend(ctx, "fulfillment-poller", time.Minute))
	assert.NoError(t, lock.Release(ctx, "fulfillment-poller"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLock_HeldElsewhere(t *testing.T) {
	db, mock := newMockDB(t)
	lock := NewAdvisoryLock(db)

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	acquired, err := lock.Acquire(context.Background(), "oauth:seller-1/shiphero/live", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHashLockName_Stable(t *testing.T) {
	assert.Equal(t, hashLockName("a"), hashLockName("a"))
	assert.NotEqual(t, hashLockName("a"), hashLockName("b"))
}
