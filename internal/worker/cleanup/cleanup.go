// Package cleanup は論理削除済みユーザーの自動パージジョブを提供する。
// 保持期間（デフォルト30日）を超過した論理削除行を日次バッチで物理削除する。
// 行は監査のために保持期間中は残し、期間超過後にのみ消す。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// UserPurger は保持期間超過行の削除を抽象化するインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserPurger interface {
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeRecorder はパージ件数を記録するインターフェース。
// metrics.Collectorの部分集合として定義する。
type PurgeRecorder interface {
	RecordPurgedUsers(count int64)
}

// PurgeJob は保持期間を超過した論理削除済みユーザーの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type PurgeJob struct {
	repo          UserPurger
	logger        *slog.Logger
	metrics       PurgeRecorder
	RetentionDays int // 論理削除後の保持日数（デフォルト: 30）
}

// NewPurgeJob は新しいPurgeJobを生成する。
// デフォルトの保持日数は30日。metricsはnilを許容する。
func NewPurgeJob(repo UserPurger, logger *slog.Logger, metrics PurgeRecorder) *PurgeJob {
	return &PurgeJob{
		repo:          repo,
		logger:        logger,
		metrics:       metrics,
		RetentionDays: 30,
	}
}

// Run は保持期間を超過した論理削除済みユーザーを物理削除する。
// deleted_atがRetentionDays日前より古い行をDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *PurgeJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := start.AddDate(0, 0, -j.RetentionDays)

	purgedCount, err := j.repo.PurgeDeletedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("ユーザーパージジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ユーザーパージの実行に失敗: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordPurgedUsers(purgedCount)
	}

	duration := time.Since(start)
	j.logger.Info("ユーザーパージジョブが完了しました",
		slog.Int64("purged_count", purgedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はパージジョブを定期実行する。起動直後に1回実行し、
// 以降はinterval間隔で実行する。ctxのキャンセルで停止する。
func (j *PurgeJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("purge job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("purge job failed", slog.String("error", err.Error()))
			}
		}
	}
}
