package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は有効期限を超過したセッションレコードの削除ジョブ。
// リフレッシュトークンのTTLを超えたセッションは二度と再開できないため、
// 定期的にDBから削除してテーブルの肥大化を防ぐ。冪等な削除処理を保証する。
type CleanupJob struct {
	db        Executor
	logger    *slog.Logger
	Retention time.Duration // セッションの保持期間（デフォルト: リフレッシュトークンTTLの30日）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionにはリフレッシュトークンのTTL以上の期間を指定すること。
// TTLより短くすると、まだ有効なリフレッシュトークンを持つセッションが削除される。
func NewCleanupJob(db Executor, logger *slog.Logger, retention time.Duration) *CleanupJob {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &CleanupJob{
		db:        db,
		logger:    logger,
		Retention: retention,
	}
}

// Run は保持期間を超過したセッションを削除する。
// created_atがRetention前より古いセッションをDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d seconds", int64(j.Retention.Seconds()))

	query := `DELETE FROM sessions WHERE created_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("retention", j.Retention.String()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.String("retention", j.Retention.String()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// RunPeriodic はintervalごとにRunを繰り返し実行する。
// ctxがキャンセルされるまでブロックするため、goroutineで起動すること。
// 1回の実行が失敗しても次の周期で再試行する。
func (j *CleanupJob) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Warn("定期セッションクリーンアップが失敗しました。次の周期で再試行します",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
