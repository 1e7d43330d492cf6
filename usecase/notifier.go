package usecase

import "github.com/satriahrh/bridgetalk/server/domain/entities"

// Notifier pushes conversation changes to connected participants
type Notifier interface {
	MessagesAdded(conversationID string, messages ...entities.Message)
	ConversationCleared(conversationID string)
}

type nopNotifier struct{}

func (nopNotifier) MessagesAdded(string, ...entities.Message) {}
func (nopNotifier) ConversationCleared(string)                {}
