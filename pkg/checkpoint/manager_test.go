package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newEnabledManager(t *testing.T) *Manager {
	t.Helper()
	enabled := true
	cfg := &Config{Enabled: &enabled}
	cfg.SetDefaults()
	mgr, err := NewManager(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

func TestManagerSaveLoadClear(t *testing.T) {
	mgr := newEnabledManager(t)
	ctx := context.Background()

	state := NewState("task-1", []byte(`{"step":3}`)).WithPhase(PhaseRunning)
	if err := mgr.SaveCheckpoint(ctx, state); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	loaded, err := mgr.LoadCheckpoint(ctx, "task-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if loaded.Phase != PhaseRunning || string(loaded.Data) != `{"step":3}` {
		t.Fatalf("LoadCheckpoint() = %+v", loaded)
	}

	if err := mgr.ClearCheckpoint(ctx, "task-1"); err != nil {
		t.Fatalf("ClearCheckpoint() error = %v", err)
	}
	if _, err := mgr.LoadCheckpoint(ctx, "task-1"); !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("LoadCheckpoint() after clear error = %v, want ErrCheckpointNotFound", err)
	}
}

func TestManagerSnapshotReturnsSequence(t *testing.T) {
	mgr := newEnabledManager(t)
	ctx := context.Background()

	seq1, err := mgr.Snapshot(ctx, NewState("task-1", nil))
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	seq2, err := mgr.Snapshot(ctx, NewState("task-1", nil))
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("Snapshot() sequences not monotonic: %d then %d", seq1, seq2)
	}

	loaded, err := mgr.LoadCheckpoint(ctx, "task-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if loaded.CheckpointType != TypeManual {
		t.Fatalf("Snapshot() checkpoint type = %q, want manual", loaded.CheckpointType)
	}
}

func TestManagerEnablePeriodicCheckpointsWhileRunning(t *testing.T) {
	mgr := newEnabledManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.EnablePeriodic(ctx, "task-1", 10*time.Millisecond, func() *State {
		return NewState("task-1", nil).WithPhase(PhaseRunning)
	})

	deadline := time.After(2 * time.Second)
	for {
		if state, err := mgr.LoadCheckpoint(context.Background(), "task-1"); err == nil {
			if state.CheckpointType != TypeInterval {
				t.Fatalf("periodic checkpoint type = %q, want interval", state.CheckpointType)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("EnablePeriodic() never wrote a checkpoint")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManagerDisabledIsNoop(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	mgr, err := NewManager(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	seq, err := mgr.Snapshot(context.Background(), NewState("task-1", nil))
	if err != nil || seq != 0 {
		t.Fatalf("Snapshot() on disabled manager = (%d, %v), want (0, nil)", seq, err)
	}
	if _, err := mgr.LoadCheckpoint(context.Background(), "task-1"); !errors.Is(err, ErrCheckpointNotFound) {
		t.Fatalf("LoadCheckpoint() error = %v, want ErrCheckpointNotFound", err)
	}
}
