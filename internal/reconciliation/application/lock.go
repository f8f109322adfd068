package application

import (
	"context"
	"fmt"
	"time"

	"github.com/feastops/reconciliation/pkg/cache"
	"github.com/feastops/reconciliation/pkg/logger"
	"github.com/feastops/reconciliation/pkg/utils"
)

// acquireBatchLock 以 SetNX 获取短 TTL 的租户级批次锁，返回释放函数。
// 锁只用于减少同租户并发批次的交错；拿不到锁（或无 Redis）时照常执行，
// 正确性由身份键 upsert 与订单 CAS 盖章保证。
func acquireBatchLock(ctx context.Context, rc *cache.RedisCache, key string) func() {
	if rc == nil {
		return func() {}
	}

	acquired := false
	_ = utils.Retry(5, 200*time.Millisecond, func() error {
		ok, err := rc.SetNX(ctx, key, 1, 30*time.Second)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("lock held")
		}
		acquired = true
		return nil
	})
	if !acquired {
		logger.Warn(ctx, "Batch sync proceeding without lock", "key", key)
		return func() {}
	}

	return func() {
		_ = rc.Delete(context.WithoutCancel(ctx), key)
	}
}
