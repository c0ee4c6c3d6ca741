// Package cleanup は認証データの自動削除ジョブを提供する。
// 期限切れのセッションと、保持期間（デフォルト7日）を過ぎても
// メールアドレスが確認されていないユーザーを定期的に削除する。
package cleanup

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

const (
	deleteExpiredSessionsQuery = `DELETE FROM auth_sessions WHERE expires_at < now()`

	// 未確認ユーザーのセッションはON DELETE CASCADEで削除される。
	deleteUnconfirmedUsersQuery = `DELETE FROM auth_users
		WHERE confirmed_at IS NULL AND created_at < now() - $1::interval`
)

// Result は1回の実行で削除した件数。
type Result struct {
	ExpiredSessions  int64
	UnconfirmedUsers int64
}

// CleanupJob は不要になった認証データの削除ジョブ。
// 削除条件は時刻のみに依存するため、何度実行しても結果は変わらない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 未確認ユーザーの保持日数（デフォルト: 7）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は7日。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 7,
	}
}

// Run は期限切れセッションと保持期間を超過した未確認ユーザーを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}

	sessions, err := j.exec(ctx, "auth_sessions", deleteExpiredSessionsQuery)
	if err != nil {
		return nil, err
	}
	res.ExpiredSessions = sessions

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	users, err := j.exec(ctx, "auth_users", deleteUnconfirmedUsersQuery, interval)
	if err != nil {
		return nil, err
	}
	res.UnconfirmedUsers = users

	j.logger.Info("認証データのクリーンアップが完了しました",
		slog.Int64("deleted_sessions", res.ExpiredSessions),
		slog.Int64("deleted_users", res.UnconfirmedUsers),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

func (j *CleanupJob) exec(ctx context.Context, table, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", table, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Start は起動直後に1回実行し、以降はinterval間隔で実行する。
// コンテキストがキャンセルされるまで実行を継続する。
// 個々の実行の失敗はログに記録し、次の周期で再試行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	_, _ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}
