package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
)

// PollerLockName elects the single fulfillment status poller.
const PollerLockName = "fulfillment-poller"

// RefreshLockName serializes OAuth token refreshes of one integration
// across processes.
func RefreshLockName(key domain.IntegrationKey) string {
	return "oauth:" + key.String()
}

// DistributedLock is a named, owner-scoped lock shared by every instance.
type DistributedLock interface {
	// Acquire takes the lock for ttl. It returns false without error when
	// another owner holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops a lock this owner holds. Releasing a lock that is not
	// held or already expired is not an error.
	Release(ctx context.Context, name string) error

	// Extend renews a held lock for another ttl. It fails when this owner
	// no longer holds the lock. Backends without expiry only check ownership.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks the lock backend.
	Ping(ctx context.Context) error
}
