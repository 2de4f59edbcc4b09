package domain

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotRetryable         = errors.New("only failed business messages can be retried")
	ErrChannelMismatch      = errors.New("message channel does not match conversation channel")

	// ErrDuplicateMessage means the store rejected a message whose provider
	// message id already exists in the conversation.
	ErrDuplicateMessage = errors.New("duplicate provider message")

	// ErrConversationExists means a concurrent delivery created the
	// conversation first.
	ErrConversationExists = errors.New("conversation already exists")
)
