package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const (
	// initialBackoff は接続リトライの初回待機時間。
	initialBackoff = 500 * time.Millisecond
	// maxBackoff は接続リトライの最大待機時間。
	maxBackoff = 8 * time.Second
	// pingTimeout は1回の疎通確認のタイムアウト。
	pingTimeout = 5 * time.Second
)

// pinger はDB疎通確認の抽象。*sql.DBが実装する。
type pinger interface {
	PingContext(ctx context.Context) error
}

// Connect はDB接続を開き、疎通を確認する。
// コンテナ起動直後などDBがまだ受け付けていない場合に備え、
// 最大attempts回まで指数バックオフでリトライする。
func Connect(ctx context.Context, databaseURL string, pool PoolConfig, attempts int) (*sql.DB, error) {
	db, err := Open(databaseURL, pool)
	if err != nil {
		return nil, err
	}

	if err := pingWithRetry(ctx, db, attempts, sleepContext); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大8秒。
func CalculateBackoff(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func pingWithRetry(ctx context.Context, db pinger, attempts int, sleep func(context.Context, time.Duration) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := CalculateBackoff(i - 1)
			slog.Warn("データベースへの接続を再試行します",
				slog.Int("attempt", i+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = db.PingContext(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
