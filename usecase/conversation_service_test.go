package usecase

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bridgetalk/server/adapters/memory"
	"github.com/satriahrh/bridgetalk/server/domain/entities"
	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

var (
	testParent  = entities.Participant{ID: "parent-1", Name: "Asha", Role: entities.ParticipantRoleParent}
	testTeacher = entities.Participant{ID: "teacher-1", Name: "Mr. Rao", Role: entities.ParticipantRoleTeacher}
)

func newConversationService(t *testing.T) (*ConversationService, *memory.ConversationRepository, *memory.AudioStore) {
	repo := memory.NewConversationRepository()
	audio := memory.NewAudioStore()
	return NewConversationService(repo, audio, zaptest.NewLogger(t)), repo, audio
}

func TestOpen(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()
	off := false

	conv, err := svc.Open(ctx, testParent, OpenRequest{Title: " Homework ", Language: entities.LanguageMarathi, TTSEnabled: &off, Model: "gemini-1.5-pro"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if conv.Title != "Homework" || conv.Language != entities.LanguageMarathi || conv.TTSEnabled || conv.Model != "gemini-1.5-pro" {
		t.Errorf("unexpected conversation %+v", conv)
	}

	conv, _ = svc.Open(ctx, testParent, OpenRequest{})
	if conv.Language != entities.LanguageAuto || !conv.TTSEnabled {
		t.Errorf("expected auto language with TTS on by default, got %+v", conv)
	}

	if _, err := svc.Open(ctx, testParent, OpenRequest{Language: "fr"}); !errors.Is(err, ErrInvalidLanguage) {
		t.Errorf("expected ErrInvalidLanguage, got %v", err)
	}
	if _, err := svc.Open(ctx, entities.Participant{ID: "x"}, OpenRequest{}); err == nil {
		t.Error("expected invalid participant to be rejected")
	}
}

func TestJoinGetAndList(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Open(ctx, testParent, OpenRequest{Language: entities.LanguageTelugu})

	if _, err := svc.Get(ctx, conv.ID, testTeacher.ID); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant before joining, got %v", err)
	}

	joined, err := svc.Join(ctx, conv.ID, testTeacher)
	if err != nil {
		t.Fatal(err)
	}
	if len(joined.Participants) != 2 {
		t.Errorf("expected 2 participants, got %d", len(joined.Participants))
	}
	if _, err := svc.Join(ctx, conv.ID, testTeacher); err != nil {
		t.Errorf("joining twice should succeed, got %v", err)
	}

	if _, err := svc.Get(ctx, conv.ID, testTeacher.ID); err != nil {
		t.Errorf("teacher should see conversation after joining: %v", err)
	}

	list, _ := svc.List(ctx, testTeacher.ID, 0)
	if len(list) != 1 || list[0].ID != conv.ID {
		t.Errorf("unexpected list %+v", list)
	}

	if _, err := svc.Join(ctx, "missing", testTeacher); !errors.Is(err, repositories.ErrConversationNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestJoinClosedConversation(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Open(ctx, testParent, OpenRequest{})

	if err := svc.Close(ctx, conv.ID, testParent.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Join(ctx, conv.ID, testTeacher); !errors.Is(err, ErrConversationClosed) {
		t.Errorf("expected ErrConversationClosed, got %v", err)
	}
}

func TestClearNotifies(t *testing.T) {
	svc, repo, _ := newConversationService(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	ctx := context.Background()

	conv, _ := svc.Open(ctx, testParent, OpenRequest{})
	_ = repo.AppendMessages(ctx, conv.ID, entities.NewMessage(entities.MessageRoleUser, "hi", entities.LanguageEnglish, entities.MessageSourceText))

	if err := svc.Clear(ctx, conv.ID, testParent.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := svc.Get(ctx, conv.ID, testParent.ID)
	if len(got.Messages) != 0 || got.Status != entities.ConversationStatusActive {
		t.Errorf("expected empty active conversation, got %+v", got)
	}
	if len(notifier.cleared) != 1 {
		t.Errorf("expected clear notification, got %v", notifier.cleared)
	}

	if err := svc.Clear(ctx, conv.ID, testTeacher.ID); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("non-participants must not clear, got %v", err)
	}
}

func TestUpdateSettings(t *testing.T) {
	svc, _, _ := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Open(ctx, testParent, OpenRequest{})

	lang := entities.LanguageBengali
	off := false
	model := "gpt-4o-mini"
	updated, err := svc.UpdateSettings(ctx, conv.ID, testParent.ID, SettingsUpdate{Language: &lang, TTSEnabled: &off, Model: &model})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Language != lang || updated.TTSEnabled || updated.Model != model {
		t.Errorf("settings not applied: %+v", updated)
	}

	bad := entities.Language("xx")
	if _, err := svc.UpdateSettings(ctx, conv.ID, testParent.ID, SettingsUpdate{Language: &bad}); !errors.Is(err, ErrInvalidLanguage) {
		t.Errorf("expected ErrInvalidLanguage, got %v", err)
	}
}

func TestMessageAudio(t *testing.T) {
	svc, repo, audio := newConversationService(t)
	ctx := context.Background()
	conv, _ := svc.Open(ctx, testParent, OpenRequest{})

	withAudio := entities.NewMessage(entities.MessageRoleAssistant, "reply", entities.LanguageEnglish, entities.MessageSourceModel)
	withAudio.AudioKey = "conversations/x/reply.mp3"
	_ = audio.Put(ctx, withAudio.AudioKey, []byte("mp3"), "audio/mpeg")
	textOnly := entities.NewMessage(entities.MessageRoleUser, "hi", entities.LanguageEnglish, entities.MessageSourceText)
	_ = repo.AppendMessages(ctx, conv.ID, textOnly, withAudio)

	rc, ct, err := svc.MessageAudio(ctx, conv.ID, withAudio.ID, testParent.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "mp3" || ct != "audio/mpeg" {
		t.Errorf("unexpected audio %q %s", data, ct)
	}

	if _, _, err := svc.MessageAudio(ctx, conv.ID, textOnly.ID, testParent.ID); !errors.Is(err, repositories.ErrAudioNotFound) {
		t.Errorf("expected ErrAudioNotFound, got %v", err)
	}
	if _, _, err := svc.MessageAudio(ctx, conv.ID, "missing", testParent.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestExpireIdle(t *testing.T) {
	svc, repo, _ := newConversationService(t)
	ctx := context.Background()

	idle := entities.NewConversation("", entities.LanguageEnglish, testParent)
	idle.CreatedAt = time.Now().Add(-2 * time.Hour)
	_ = repo.Create(ctx, idle)
	_, _ = svc.Open(ctx, testParent, OpenRequest{})

	n, err := svc.ExpireIdle(ctx, time.Hour)
	if err != nil || n != 1 {
		t.Errorf("expected 1 expired conversation, got %d (%v)", n, err)
	}
}
