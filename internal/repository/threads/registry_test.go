package threads

import (
	"errors"
	"testing"
	"time"

	"ragdex/internal/domain"
)

func TestCreateAndGet(t *testing.T) {
	r := New()
	created := r.Create("my thread")

	if created.ID == "" {
		t.Fatal("expected generated thread ID")
	}
	if created.Title != "my thread" {
		t.Errorf("unexpected title %q", created.Title)
	}

	got, err := r.Get(created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != created.ID || got.Title != created.Title {
		t.Errorf("Get returned %+v, want %+v", got, created)
	}
}

func TestGet_NotFound(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	if !errors.Is(err, domain.ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestEnsureAppend_CreatesUnderGivenID(t *testing.T) {
	r := New()
	got := r.EnsureAppend("client-chosen-id", "preview title",
		domain.Message{Role: domain.RoleUser, Content: "hi"})

	if got.ID != "client-chosen-id" {
		t.Errorf("expected supplied ID kept, got %q", got.ID)
	}
	if got.Title != "preview title" {
		t.Errorf("unexpected title %q", got.Title)
	}
	if got.MessageCount() != 1 || got.Messages[0].Content != "hi" {
		t.Errorf("expected the message appended at creation, got %+v", got.Messages)
	}
}

func TestEnsureAppend_GeneratesIDWhenEmpty(t *testing.T) {
	r := New()
	got := r.EnsureAppend("", "t", domain.Message{Role: domain.RoleUser, Content: "hi"})
	if got.ID == "" {
		t.Fatal("expected generated thread ID")
	}
	if _, err := r.Get(got.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureAppend_ExistingThreadKeepsTitle(t *testing.T) {
	r := New()
	created := r.Create("original title")

	got := r.EnsureAppend(created.ID, "ignored title",
		domain.Message{Role: domain.RoleUser, Content: "hi"})

	if got.Title != "original title" {
		t.Errorf("title must not change on existing thread, got %q", got.Title)
	}
	if got.MessageCount() != 1 {
		t.Errorf("expected 1 message, got %d", got.MessageCount())
	}
}

func TestList_MostRecentlyUpdatedFirst(t *testing.T) {
	r := New()
	clock := time.Now()
	r.now = func() time.Time { return clock }

	first := r.Create("first")
	clock = clock.Add(time.Second)
	second := r.Create("second")

	// touching the older thread moves it to the front
	clock = clock.Add(time.Second)
	if err := r.Append(first.ID, domain.Message{Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("unexpected order: %s, %s", list[0].Title, list[1].Title)
	}
}

func TestDelete(t *testing.T) {
	r := New()
	created := r.Create("doomed")

	if err := r.Delete(created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get(created.ID); !errors.Is(err, domain.ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound after delete, got %v", err)
	}
	if err := r.Delete(created.ID); !errors.Is(err, domain.ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound on double delete, got %v", err)
	}
}

func TestAppend_RecordsMessages(t *testing.T) {
	r := New()
	created := r.Create("chat")

	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "question"},
		{Role: domain.RoleAssistant, Content: "answer"},
	}
	for _, m := range msgs {
		if err := r.Append(created.ID, m); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := r.Get(created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.MessageCount() != 2 {
		t.Fatalf("expected 2 messages, got %d", got.MessageCount())
	}
	if got.Messages[0].Role != domain.RoleUser || got.Messages[1].Role != domain.RoleAssistant {
		t.Errorf("roles not preserved: %+v", got.Messages)
	}
}

func TestAppendContent_GrowsLastMessage(t *testing.T) {
	r := New()
	created := r.Create("chat")

	if err := r.Append(created.ID, domain.Message{Role: domain.RoleAssistant}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, frag := range []string{"Hello", ", ", "world"} {
		if err := r.AppendContent(created.ID, frag); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, _ := r.Get(created.ID)
	if got.Messages[0].Content != "Hello, world" {
		t.Errorf("unexpected content %q", got.Messages[0].Content)
	}
}

func TestAppendContent_NoMessages(t *testing.T) {
	r := New()
	created := r.Create("empty")
	if err := r.AppendContent(created.ID, "x"); err == nil {
		t.Fatal("expected error appending content to thread with no messages")
	}
}

func TestSetResponseTime(t *testing.T) {
	r := New()
	created := r.Create("chat")
	if err := r.Append(created.ID, domain.Message{Role: domain.RoleAssistant, Content: "answer"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.SetResponseTime(created.ID, 1.25); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := r.Get(created.ID)
	if got.Messages[0].ResponseTime != 1.25 {
		t.Errorf("expected response time 1.25, got %v", got.Messages[0].ResponseTime)
	}
}

func TestPruneEmpty(t *testing.T) {
	r := New()
	empty1 := r.Create("empty one")
	kept := r.Create("kept")
	r.Create("empty two")

	if err := r.Append(kept.ID, domain.Message{Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := r.PruneEmpty(); n != 2 {
		t.Fatalf("expected 2 pruned, got %d", n)
	}
	if _, err := r.Get(empty1.ID); !errors.Is(err, domain.ErrThreadNotFound) {
		t.Error("expected empty thread to be pruned")
	}
	if _, err := r.Get(kept.ID); err != nil {
		t.Errorf("expected kept thread to survive: %v", err)
	}
}

func TestPruneEmptyAndCreate(t *testing.T) {
	r := New()
	stale := r.Create("stale empty")
	kept := r.Create("kept")
	if err := r.Append(kept.ID, domain.Message{Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh, pruned := r.PruneEmptyAndCreate("fresh")
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
	if _, err := r.Get(stale.ID); !errors.Is(err, domain.ErrThreadNotFound) {
		t.Error("expected stale empty thread to be pruned")
	}
	// the thread created in the same step must not prune itself
	if _, err := r.Get(fresh.ID); err != nil {
		t.Errorf("fresh thread must survive its own prune: %v", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New()
	created := r.Create("chat")
	if err := r.Append(created.ID, domain.Message{Role: domain.RoleUser, Content: "orig"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := r.Get(created.ID)
	got.Messages[0].Content = "mutated"

	again, _ := r.Get(created.ID)
	if again.Messages[0].Content != "orig" {
		t.Error("Get must return an isolated copy")
	}
}
