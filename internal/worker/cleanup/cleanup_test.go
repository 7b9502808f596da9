package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

// --- モック定義 ---

type mockSessionDeleter struct {
	called bool
	before time.Time
	count  int64
	err    error
}

func (m *mockSessionDeleter) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.called = true
	m.before = before
	return m.count, m.err
}

type mockRecorder struct {
	total int64
	calls int
}

func (m *mockRecorder) RecordSessionsCleaned(count int64) {
	m.calls++
	m.total += count
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- テスト ---

func TestRun_DeletesSessionsExpiredBeforeNow(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockSessionDeleter{count: 3}
	rec := &mockRecorder{}

	job := NewCleanupJob(deleter, rec, newTestLogger(&buf))
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return fixed }

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !deleter.called {
		t.Fatal("DeleteExpired が呼ばれていない")
	}
	if !deleter.before.Equal(fixed) {
		t.Errorf("cutoff = %v, want %v", deleter.before, fixed)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	if rec.calls != 1 || rec.total != 3 {
		t.Errorf("recorder calls=%d total=%d, want 1/3", rec.calls, rec.total)
	}
}

func TestRun_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockSessionDeleter{count: 5}, nil, newTestLogger(&buf))

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログがJSONではない: %v\nraw: %s", err, buf.String())
	}
	if got, ok := entry["deleted_count"].(float64); !ok || got != 5 {
		t.Errorf("deleted_count = %v, want 5", entry["deleted_count"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("level = %v, want INFO", entry["level"])
	}
}

func TestRun_NothingToDelete_IsNotAnError(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	job := NewCleanupJob(&mockSessionDeleter{count: 0}, rec, newTestLogger(&buf))

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestRun_RepositoryError_ReturnsWrappedError(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("connection refused")
	rec := &mockRecorder{}
	job := NewCleanupJob(&mockSessionDeleter{err: boom}, rec, newTestLogger(&buf))

	_, err := job.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}
	if rec.calls != 0 {
		t.Error("失敗時は件数を記録しない")
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログがJSONではない: %v", err)
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}
