// Package cleanup は失効したセッションと登録待ちの定期削除ジョブを提供する。
// 失効済みの行は検証時にも無効として扱われるため、このジョブは容量の回収のみを担う。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredDeleter は指定時刻以前に失効した行を削除し、削除件数を返す。
// repository.SessionRepository と repository.PendingSignupRepository が実装する。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Recorder は削除件数を記録する。metrics.Collector が実装する。
type Recorder interface {
	RecordCleanup(table string, deleted int64)
}

// Target は削除対象のテーブルとその削除処理。
type Target struct {
	Table   string
	Deleter ExpiredDeleter
}

// CleanupJob は失効済みレコードの削除ジョブ。
// 冪等であり、複数のワーカーが同時に実行しても結果は変わらない。
type CleanupJob struct {
	targets  []Target
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(targets []Target, recorder Recorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		targets:  targets,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は全対象の失効済みレコードを1回削除する。
// ある対象の失敗で残りの対象を止めず、失敗はまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now()

	var errs []error
	var total int64
	for _, t := range j.targets {
		deleted, err := t.Deleter.DeleteExpired(ctx, now)
		if err != nil {
			j.logger.Error("失効レコードの削除に失敗しました",
				slog.String("table", t.Table),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s のクリーンアップに失敗: %w", t.Table, err))
			continue
		}

		total += deleted
		if j.recorder != nil {
			j.recorder.RecordCleanup(t.Table, deleted)
		}
		j.logger.Debug("失効レコードを削除しました",
			slog.String("table", t.Table),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("failed_targets", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("クリーンアップサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
