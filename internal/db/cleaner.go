package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/passkeeper/internal/clock"
)

// StartSoftDeleteCleaner purges soft-deleted logins older than retention
// every interval until ctx is done.
func StartSoftDeleteCleaner(
	ctx context.Context,
	db *sql.DB,
	clk clock.Clock,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticks, stop := clk.NewTicker(interval)
	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				cutoff := clk.Now().Add(-retention)
				res, err := db.ExecContext(ctx, `
                    DELETE FROM logins
                     WHERE deleted = true
                       AND deleted_at < $1
                `, cutoff)
				if err != nil {
					log.Error("failed to clean soft-deleted logins", zap.Error(err))
					continue
				}
				if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("cleaned soft-deleted logins", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
