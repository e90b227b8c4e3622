package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

const settlementLockTTL = 30 * time.Second

var ErrSettlementLockBusy = errors.New("another settlement run holds the lock for this partner")

// AcquireSettlementLock serializes settlement creation per partner across instances.
// A nil locker means single-instance mode; the escrow claim constraints still prevent
// double counting, the lock only avoids wasted work and noisy conflicts.
func AcquireSettlementLock(ctx context.Context, locker *redislock.Client, logger *logrus.Logger, partner string) (release func(), err error) {
	if locker == nil {
		return func() {}, nil
	}
	lockKey := fmt.Sprintf("settlement:%s", partner)
	lock, err := locker.Obtain(ctx, lockKey, settlementLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
	})
	if err == redislock.ErrNotObtained {
		config.LogError(logger, "SettlementManager", "AcquireSettlementLock", "could not obtain settlement lock", partner, err)
		return nil, ErrSettlementLockBusy
	} else if err != nil {
		config.LogError(logger, "SettlementManager", "AcquireSettlementLock", "error obtaining settlement lock", partner, err)
		return nil, err
	}
	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":   "SettlementManager",
					"partner": partner,
				}).Warn("failed to release settlement lock: " + releaseErr.Error())
			}
		}
	}, nil
}
