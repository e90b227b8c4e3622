package workflow_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/workflow"
	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*redislock.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client), mr
}

func TestSettlementLockIsHeldUntilReleased(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	release, err := workflow.AcquireSettlementLock(ctx, locker, quietLogger(), "PARTNER_A")
	require.NoError(t, err)
	assert.True(t, mr.Exists("settlement:PARTNER_A"))

	// Other partners are not blocked.
	releaseB, err := workflow.AcquireSettlementLock(ctx, locker, quietLogger(), "PARTNER_B")
	require.NoError(t, err)
	releaseB()

	// A second caller for the same partner waits, then gets the lock after release.
	go func() {
		time.Sleep(150 * time.Millisecond)
		release()
	}()
	again, err := workflow.AcquireSettlementLock(ctx, locker, quietLogger(), "PARTNER_A")
	require.NoError(t, err)
	again()
	assert.False(t, mr.Exists("settlement:PARTNER_A"))
}

func TestSettlementLockGivesUpWhenContextEnds(t *testing.T) {
	locker, _ := newLocker(t)

	holder, err := locker.Obtain(context.Background(), "settlement:PLATFORM", time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = holder.Release(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	release, err := workflow.AcquireSettlementLock(ctx, locker, quietLogger(), "PLATFORM")
	require.Error(t, err)
	assert.Nil(t, release)
}

func TestSettlementManagerRunsUnderRedisLock(t *testing.T) {
	f := newFixture(t)
	locker, mr := newLocker(t)
	f.settlements.Locker = locker
	f.seedMarch(t)

	res, err := f.settlements.CreateServiceFeeSettlement(f.ctx, models.PartnerTypePartnerA, periodStart, periodEnd, "finance")
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.False(t, mr.Exists("settlement:PARTNER_A"), "lock is released after the run")
}
