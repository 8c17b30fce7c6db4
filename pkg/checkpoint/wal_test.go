package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWALAppendAndLatestForTask(t *testing.T) {
	wal, err := NewWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewWAL() error = %v", err)
	}

	state := NewState("task-1", nil)
	if err := wal.Append(state); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, ok := wal.LatestForTask("task-1")
	if !ok {
		t.Fatal("LatestForTask() did not find the appended checkpoint")
	}
	if got.TaskID != "task-1" {
		t.Fatalf("LatestForTask() TaskID = %q, want task-1", got.TaskID)
	}
}

func TestWALRecoverAfterRestart(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir)
	if err != nil {
		t.Fatalf("NewWAL() error = %v", err)
	}
	wal.Append(NewState("task-1", nil))
	wal.Append(NewState("task-1", nil).WithPhase(PhaseRunning))
	wal.Append(NewState("task-2", nil))

	reopened, err := NewWAL(dir)
	if err != nil {
		t.Fatalf("reopen NewWAL() error = %v", err)
	}
	manifest, err := reopened.Recover()
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(manifest.Checkpoints) != 2 {
		t.Fatalf("Recover() found %d tasks, want 2", len(manifest.Checkpoints))
	}
	if manifest.Checkpoints["task-1"].Phase != PhaseRunning {
		t.Fatalf("Recover() task-1 phase = %q, want running", manifest.Checkpoints["task-1"].Phase)
	}
}

func TestWALRecoverSkipsCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir)
	if err != nil {
		t.Fatalf("NewWAL() error = %v", err)
	}
	wal.Append(NewState("task-1", nil))
	wal.Append(NewState("task-1", nil).WithPhase(PhaseRunning))

	// Corrupt the latest entry directly on disk.
	entries, _ := os.ReadDir(filepath.Join(dir, "wal"))
	latest := entries[len(entries)-1]
	path := filepath.Join(dir, "wal", latest.Name())
	data, _ := os.ReadFile(path)
	data[0] ^= 0xFF
	os.WriteFile(path, data, 0o644)

	manifest, err := wal.Recover()
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	got := manifest.Checkpoints["task-1"]
	if got == nil {
		t.Fatal("Recover() dropped task-1 entirely instead of falling back")
	}
	if got.Phase != PhaseInitialized {
		t.Fatalf("Recover() phase = %q, want fallback to initialized", got.Phase)
	}
}

func TestWALCompactAndPurge(t *testing.T) {
	dir := t.TempDir()
	wal, err := NewWAL(dir)
	if err != nil {
		t.Fatalf("NewWAL() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		wal.Append(NewState("task-1", nil))
	}

	if err := wal.Compact("task-1", 3); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if got := len(wal.manifest.Sequences["task-1"]); got != 3 {
		t.Fatalf("Compact() left %d entries, want 3", got)
	}

	if err := wal.PurgeTask("task-1"); err != nil {
		t.Fatalf("PurgeTask() error = %v", err)
	}
	if _, ok := wal.LatestForTask("task-1"); ok {
		t.Fatal("PurgeTask() did not remove the task's checkpoints")
	}
}
