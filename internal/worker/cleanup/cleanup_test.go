package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

// --- モック ---

type mockPurger struct {
	purgeFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *mockPurger) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.purgeFn(ctx, cutoff)
}

type mockRecorder struct {
	total int64
}

func (m *mockRecorder) RecordPurgedUsers(count int64) {
	m.total += count
}

// --- テスト ---

// TestPurgeJob_Run は保持期間に応じたカットオフで削除が実行されることを検証する。
func TestPurgeJob_Run(t *testing.T) {
	var gotCutoff time.Time
	purger := &mockPurger{
		purgeFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			gotCutoff = cutoff
			return 3, nil
		},
	}
	recorder := &mockRecorder{}

	job := NewPurgeJob(purger, slog.Default(), recorder)
	job.RetentionDays = 30

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	wantCutoff := time.Now().AddDate(0, 0, -30)
	diff := gotCutoff.Sub(wantCutoff)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %v, want about %v", gotCutoff, wantCutoff)
	}
	if recorder.total != 3 {
		t.Errorf("recorded purged count = %d, want 3", recorder.total)
	}
}

// TestPurgeJob_Run_NoRows は削除対象ゼロでもエラーにならないことを検証する。
func TestPurgeJob_Run_NoRows(t *testing.T) {
	purger := &mockPurger{
		purgeFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 0, nil
		},
	}

	job := NewPurgeJob(purger, slog.Default(), nil)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

// TestPurgeJob_Run_Error はリポジトリのエラーがラップされて返ることを検証する。
func TestPurgeJob_Run_Error(t *testing.T) {
	purger := &mockPurger{
		purgeFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 0, fmt.Errorf("connection refused")
		},
	}

	job := NewPurgeJob(purger, slog.Default(), nil)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error from Run")
	}
}

// TestPurgeJob_Start_Cancellation はctxキャンセルでStartが停止することを検証する。
func TestPurgeJob_Start_Cancellation(t *testing.T) {
	purger := &mockPurger{
		purgeFn: func(ctx context.Context, cutoff time.Time) (int64, error) {
			return 0, nil
		},
	}

	job := NewPurgeJob(purger, slog.Default(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not stop after context cancellation")
	}
}
