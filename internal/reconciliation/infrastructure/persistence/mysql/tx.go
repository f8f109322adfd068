// Package mysql 对账引擎的 GORM 仓储实现
package mysql

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

func contextWithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// session 返回当前会话句柄：事务上下文内返回事务句柄，否则返回绑定 ctx 的普通句柄。
// 所有仓储方法经由此入口，使事务内外的调用路径完全一致
func session(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}
