package conversation

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestHistoryAppendAndMessages(t *testing.T) {
	h, err := NewHistory("", "gpt-4o")
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}

	h.Append(Message{Role: RoleUser, Content: "hello"})
	h.Append(Message{Role: RoleAssistant, Content: "hi there"})

	msgs := h.Messages(0)
	if len(msgs) != 2 {
		t.Fatalf("Messages() len = %d, want 2", len(msgs))
	}
}

func TestHistoryTruncationPreservesPairs(t *testing.T) {
	h, err := NewHistory("", "gpt-4o")
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}

	// Three separate user/assistant turns.
	for i := 0; i < 3; i++ {
		h.Append(Message{Role: RoleUser, Content: "this is a reasonably long user question to burn tokens"})
		h.Append(Message{Role: RoleAssistant, Content: "this is a reasonably long assistant answer to burn tokens"})
	}

	// Budget fits roughly one turn; must never emit a dangling assistant
	// message without its preceding user message.
	msgs := h.Messages(20)
	if len(msgs) == 0 {
		t.Fatal("Messages() returned nothing")
	}

	sawTruncationMarker := false
	for i, m := range msgs {
		if m.Role == RoleSystem {
			sawTruncationMarker = true
			continue
		}
		if m.Role == RoleAssistant && i == 0 {
			t.Fatalf("Messages() started with a dangling assistant message: %+v", msgs)
		}
	}
	if !sawTruncationMarker {
		t.Fatal("Messages() dropped turns without inserting a truncation marker")
	}
}

func TestHistoryTruncationKeepsSystemMessage(t *testing.T) {
	h, err := NewHistory("", "gpt-4o")
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}

	h.Append(Message{Role: RoleSystem, Content: "you are a terse assistant"})
	for i := 0; i < 5; i++ {
		h.Append(Message{Role: RoleUser, Content: "this is a reasonably long user question to burn tokens"})
		h.Append(Message{Role: RoleAssistant, Content: "this is a reasonably long assistant answer to burn tokens"})
	}

	msgs := h.Messages(20)
	if len(msgs) == 0 || msgs[0].Role != RoleSystem || msgs[0].Content != "you are a terse assistant" {
		t.Fatalf("Messages() dropped the system message under a tight budget: %+v", msgs)
	}
}

func TestHistorySnapshotRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHistory(filepath.Join(dir, "convo.snapshots"), "gpt-4o")
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}

	h.Append(Message{Role: RoleUser, Content: "before"})
	if _, err := h.Snapshot("checkpoint-1"); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	h.Append(Message{Role: RoleAssistant, Content: "after"})
	if len(h.Messages(0)) != 2 {
		t.Fatalf("expected 2 messages before restore")
	}

	if err := h.Restore("checkpoint-1"); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	restored := h.Messages(0)
	if len(restored) != 1 || restored[0].Content != "before" {
		t.Fatalf("Restore() did not produce a byte-exact round trip, got %+v", restored)
	}
}

func TestHistoryPersistLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHistory("", "gpt-4o")
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}
	h.Append(Message{Role: RoleUser, Content: "persisted"})

	path := filepath.Join(dir, "convo.json")
	if err := h.Persist(path); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	h2, _ := NewHistory("", "gpt-4o")
	if err := h2.Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if msgs := h2.Messages(0); len(msgs) != 1 || msgs[0].Content != "persisted" {
		t.Fatalf("Load() got %+v", msgs)
	}
}

func TestRegistryCreateSwitchDeleteRename(t *testing.T) {
	r := NewRegistry(t.TempDir(), "gpt-4o")

	if _, err := r.Create("alpha"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Create("alpha"); err == nil {
		t.Fatal("Create() expected error on duplicate name")
	}
	if _, err := r.Create("beta"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := r.SwitchActive("beta"); err != nil {
		t.Fatalf("SwitchActive() error = %v", err)
	}
	if r.Active() != "beta" {
		t.Fatalf("Active() = %q, want beta", r.Active())
	}

	if err := r.Rename("alpha", "gamma"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, ok := r.Get("gamma"); !ok {
		t.Fatal("Get() did not find renamed conversation")
	}

	if err := r.Delete("gamma"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := r.Get("gamma"); ok {
		t.Fatal("Get() found deleted conversation")
	}
}

func TestRegistryLoadExisting(t *testing.T) {
	dir := t.TempDir()

	r := NewRegistry(dir, "gpt-4o")
	conv, err := r.Create("persisted")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	conv.History.Append(Message{Role: RoleUser, Content: "remember me"})
	if err := conv.History.Persist(r.Path("persisted")); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	// A fresh registry over the same directory picks the conversation up.
	r2 := NewRegistry(dir, "gpt-4o")
	loaded, err := r2.LoadExisting()
	if err != nil {
		t.Fatalf("LoadExisting() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0] != "persisted" {
		t.Fatalf("LoadExisting() = %v, want [persisted]", loaded)
	}
	conv2, ok := r2.Get("persisted")
	if !ok {
		t.Fatal("Get() did not find the loaded conversation")
	}
	msgs := conv2.History.Messages(0)
	if len(msgs) != 1 || msgs[0].Content != "remember me" {
		t.Fatalf("loaded history = %+v", msgs)
	}
}

func TestRegistryWithLockSerializesSameConversation(t *testing.T) {
	r := NewRegistry(t.TempDir(), "gpt-4o")
	if _, err := r.Create("shared"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var order []int
	done := make(chan struct{}, 2)
	start := make(chan struct{})

	run := func(id int) {
		<-start
		_ = r.WithLock(context.Background(), "shared", func() error {
			order = append(order, id)
			time.Sleep(5 * time.Millisecond)
			return nil
		})
		done <- struct{}{}
	}

	go run(1)
	go run(2)
	close(start)
	<-done
	<-done

	if len(order) != 2 {
		t.Fatalf("expected both callbacks to run, got %v", order)
	}
}

func TestRegistryWithLockUnknownConversation(t *testing.T) {
	r := NewRegistry(t.TempDir(), "gpt-4o")
	err := r.WithLock(context.Background(), "nope", func() error { return nil })
	if err == nil {
		t.Fatal("WithLock() expected error for unknown conversation")
	}
}

func TestRegistryWithLockCreateIsLazy(t *testing.T) {
	r := NewRegistry(t.TempDir(), "gpt-4o")

	ran := false
	if err := r.WithLockCreate(context.Background(), "fresh", func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("WithLockCreate() error = %v", err)
	}
	if !ran {
		t.Fatal("WithLockCreate() did not run the callback")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Fatal("WithLockCreate() did not register the conversation")
	}
}

func TestRegistryCreateRejectsInvalidName(t *testing.T) {
	r := NewRegistry(t.TempDir(), "gpt-4o")
	for _, name := range []string{"", "has space", "slash/y", "../escape"} {
		if _, err := r.Create(name); err == nil {
			t.Fatalf("Create(%q) expected error for invalid name", name)
		}
	}
	if _, err := r.Create("ok_name-1.2"); err != nil {
		t.Fatalf("Create() error = %v for a valid name", err)
	}
}
