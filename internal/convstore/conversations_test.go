package convstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

func testMessage(role models.Role, content string) *models.Message {
	return &models.Message{ID: content, Role: role, Content: content, CreatedAt: time.Now()}
}

func TestMemoryKVTTL(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	base := time.Now()
	kv.now = func() time.Time { return base }

	if err := kv.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	kv.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryKVZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	base := time.Now()
	kv.now = func() time.Time { return base }

	if err := kv.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	kv.now = func() time.Time { return base.Add(1000 * time.Hour) }
	if _, err := kv.Get(ctx, "k"); err != nil {
		t.Fatalf("expected no expiry, got %v", err)
	}
}

func TestConversationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewConversations(NewMemoryKV(), Options{MaxMessages: 100})

	conv := &models.Conversation{
		ID: "c1",
		Messages: []*models.Message{
			testMessage(models.RoleSystem, "sys"),
			testMessage(models.RoleUser, "hello"),
			testMessage(models.RoleAssistant, "hi there"),
		},
	}
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(loaded.Messages))
	}
	if loaded.Messages[1].Content != "hello" {
		t.Errorf("unexpected content %q", loaded.Messages[1].Content)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not stamped on save")
	}
}

func TestConversationsSavePrunes(t *testing.T) {
	ctx := context.Background()
	store := NewConversations(NewMemoryKV(), Options{MaxMessages: 4})

	conv := &models.Conversation{ID: "c1"}
	conv.Messages = append(conv.Messages, testMessage(models.RoleSystem, "sys"))
	for i := 0; i < 10; i++ {
		conv.Messages = append(conv.Messages, testMessage(models.RoleUser, fmt.Sprintf("m%d", i)))
	}

	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// 1 system + 4 most recent non-system.
	if len(loaded.Messages) != 5 {
		t.Fatalf("expected 5 messages after prune, got %d", len(loaded.Messages))
	}
	if loaded.Messages[0].Role != models.RoleSystem {
		t.Error("system message dropped by save")
	}
	if loaded.Messages[len(loaded.Messages)-1].Content != "m9" {
		t.Error("most recent message dropped by prune")
	}
}

func TestConversationsIndex(t *testing.T) {
	ctx := context.Background()
	store := NewConversations(NewMemoryKV(), Options{})

	for _, id := range []string{"a", "b", "c"} {
		conv := &models.Conversation{ID: id, Messages: []*models.Message{testMessage(models.RoleUser, "hi")}}
		if err := store.Save(ctx, conv); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	// Saving the same id twice must not duplicate the index entry.
	if err := store.Save(ctx, &models.Conversation{ID: "b", Messages: []*models.Message{testMessage(models.RoleUser, "again")}}); err != nil {
		t.Fatalf("resave: %v", err)
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %v", ids)
	}

	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, err = store.List(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids after delete, got %v", ids)
	}
	if _, err := store.Load(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted conversation, got %v", err)
	}
}

func TestSQLiteKV(t *testing.T) {
	ctx := context.Background()
	kv, err := NewSQLiteKV(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer kv.Close()

	base := time.Now()
	kv.now = func() time.Time { return base }

	if err := kv.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set(ctx, "k2", []byte("v2"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := kv.Get(ctx, "k1")
	if err != nil || string(got) != "v1" {
		t.Fatalf("get k1 = %q, %v", got, err)
	}

	// Overwrite replaces atomically.
	if err := kv.Set(ctx, "k1", []byte("v1b"), time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = kv.Get(ctx, "k1")
	if string(got) != "v1b" {
		t.Fatalf("expected overwritten value, got %q", got)
	}

	kv.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := kv.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if _, err := kv.Get(ctx, "k2"); err != nil {
		t.Fatalf("no-TTL key must survive, got %v", err)
	}

	// Sweep is a no-op for live keys and removes expired rows.
	if err := kv.Set(ctx, "k3", []byte("v3"), -1); err != nil {
		t.Fatalf("set: %v", err)
	}
	n, err := kv.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 swept (k1 already deleted on read), got %d", n)
	}
}
