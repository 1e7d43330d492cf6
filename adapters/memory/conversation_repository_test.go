package memory

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

var parent = entities.Participant{ID: "parent-1", Name: "Asha", Role: entities.ParticipantRoleParent}

func TestCreateAndGet(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()
	conv := entities.NewConversation("Homework", entities.LanguageBengali, parent)

	if err := repo.Create(ctx, conv); err != nil {
		t.Fatalf("Failed to create conversation: %v", err)
	}
	if err := repo.Create(ctx, conv); err == nil {
		t.Error("Expected error creating duplicate conversation")
	}

	got, err := repo.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Title = "changed"
	again, _ := repo.GetByID(ctx, conv.ID)
	if again.Title != "Homework" {
		t.Error("Returned conversation must be a copy")
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, repositories.ErrConversationNotFound) {
		t.Errorf("Expected ErrConversationNotFound, got %v", err)
	}
}

func TestMessages(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()
	conv := entities.NewConversation("", entities.LanguageEnglish, parent)
	_ = repo.Create(ctx, conv)

	user := entities.NewMessage(entities.MessageRoleUser, "Hello", entities.LanguageEnglish, entities.MessageSourceText)
	reply := entities.NewMessage(entities.MessageRoleAssistant, "Hi", entities.LanguageEnglish, entities.MessageSourceModel)
	if err := repo.AppendMessages(ctx, conv.ID, user, reply); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetByID(ctx, conv.ID)
	if len(got.Messages) != 2 || got.Messages[0].ID != user.ID || got.LastMessageAt == nil {
		t.Fatalf("Unexpected messages %+v", got.Messages)
	}

	// Update must not drop messages
	got.TTSEnabled = false
	if err := repo.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetByID(ctx, conv.ID)
	if len(got.Messages) != 2 || got.TTSEnabled {
		t.Errorf("Update lost messages or settings: %+v", got)
	}

	_ = repo.RemoveMessage(ctx, conv.ID, user.ID)
	got, _ = repo.GetByID(ctx, conv.ID)
	if len(got.Messages) != 1 || got.Messages[0].ID != reply.ID {
		t.Errorf("Expected only the reply to remain, got %+v", got.Messages)
	}

	_ = repo.ClearMessages(ctx, conv.ID)
	got, _ = repo.GetByID(ctx, conv.ID)
	if len(got.Messages) != 0 {
		t.Errorf("Expected no messages after clear, got %d", len(got.Messages))
	}

	if err := repo.AppendMessages(ctx, "missing", user); !errors.Is(err, repositories.ErrConversationNotFound) {
		t.Errorf("Expected ErrConversationNotFound, got %v", err)
	}
}

func TestListByParticipant(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()

	older := entities.NewConversation("older", entities.LanguageEnglish, parent)
	older.LastActiveAt = time.Now().Add(-time.Hour)
	newer := entities.NewConversation("newer", entities.LanguageEnglish, parent)
	other := entities.NewConversation("other", entities.LanguageEnglish, entities.Participant{ID: "parent-2", Name: "Ravi", Role: entities.ParticipantRoleParent})
	for _, c := range []*entities.Conversation{older, newer, other} {
		_ = repo.Create(ctx, c)
	}
	_ = repo.AppendMessages(ctx, newer.ID, entities.NewMessage(entities.MessageRoleUser, "x", entities.LanguageEnglish, entities.MessageSourceText))

	list, _ := repo.ListByParticipant(ctx, parent.ID, 0)
	if len(list) != 2 || list[0].Title != "newer" {
		t.Fatalf("Expected newest first, got %+v", list)
	}
	if list[0].Messages != nil {
		t.Error("Listing should omit messages")
	}

	list, _ = repo.ListByParticipant(ctx, parent.ID, 1)
	if len(list) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(list))
	}
}

func TestExpireIdle(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()

	idle := entities.NewConversation("", entities.LanguageEnglish, parent)
	idle.CreatedAt = time.Now().Add(-2 * time.Hour)
	fresh := entities.NewConversation("", entities.LanguageEnglish, parent)
	// recently joined but silent for two hours
	joined := entities.NewConversation("", entities.LanguageEnglish, parent)
	joined.CreatedAt = time.Now().Add(-3 * time.Hour)
	spoke := time.Now().Add(-2 * time.Hour)
	joined.LastMessageAt = &spoke
	joined.Join(entities.Participant{ID: "teacher-1", Name: "Mr. Rao", Role: entities.ParticipantRoleTeacher})
	_ = repo.Create(ctx, idle)
	_ = repo.Create(ctx, fresh)
	_ = repo.Create(ctx, joined)

	n, err := repo.ExpireIdle(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 expired conversations, got %d (%v)", n, err)
	}
	for _, id := range []string{idle.ID, joined.ID} {
		got, _ := repo.GetByID(ctx, id)
		if got.Status != entities.ConversationStatusExpired || got.PurgeAt == nil {
			t.Errorf("Expected expired status with a purge time, got %s %v", got.Status, got.PurgeAt)
		}
	}
	got, _ := repo.GetByID(ctx, fresh.ID)
	if got.Status != entities.ConversationStatusActive {
		t.Errorf("Fresh conversation should stay active, got %s", got.Status)
	}
}

func TestAudioStore(t *testing.T) {
	store := NewAudioStore()
	ctx := context.Background()

	if err := store.Put(ctx, "a/b.mp3", []byte("abc"), "audio/mpeg"); err != nil {
		t.Fatal(err)
	}
	rc, ct, err := store.Get(ctx, "a/b.mp3")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "abc" || ct != "audio/mpeg" {
		t.Errorf("Unexpected object %q %s", data, ct)
	}

	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, repositories.ErrAudioNotFound) {
		t.Errorf("Expected ErrAudioNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "a/b.mp3"); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store after delete, got %d objects", store.Len())
	}
	if err := store.Delete(ctx, "a/b.mp3"); err != nil {
		t.Errorf("Deleting a missing key should succeed, got %v", err)
	}
}
