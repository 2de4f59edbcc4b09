package domain

import "time"

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderBusiness SenderType = "business"
)

type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// forward position along the delivery path; failed sits outside it.
var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransitionTo reports whether a provider or dispatcher may move a message
// from s to next. Statuses only move forward; failed is reachable from every
// state except read, which is final. Leaving failed requires CanRetryTo.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if next == StatusFailed {
		_, known := statusRank[s]
		return s == StatusFailed || (known && s != StatusRead)
	}

	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}

	return to > from
}

// CanRetryTo is the explicit retry edge: failed -> sent.
func (s MessageStatus) CanRetryTo(next MessageStatus) bool {
	return s == StatusFailed && next == StatusSent
}

// StatusesAllowing returns every status a message may be in for an update to
// next to apply. Repositories use it to make status writes conditional.
func StatusesAllowing(next MessageStatus, retry bool) []MessageStatus {
	var from []MessageStatus
	for _, s := range []MessageStatus{StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		if s.CanTransitionTo(next) || (retry && s.CanRetryTo(next)) {
			from = append(from, s)
		}
	}
	return from
}

type Message struct {
	ID                int64          `db:"id" json:"id"`
	ConversationID    int64          `db:"conversation_id" json:"conversationId"`
	BusinessID        string         `db:"business_id" json:"businessId"`
	SenderType        SenderType     `db:"sender_type" json:"senderType"`
	SenderName        string         `db:"sender_name" json:"senderName"`
	Content           string         `db:"content" json:"content"`
	Channel           Channel        `db:"channel" json:"channel"`
	Status            *MessageStatus `db:"status" json:"status,omitempty"`
	ProviderMessageID *string        `db:"provider_message_id" json:"providerMessageId,omitempty"`
	Metadata          JSONMap        `db:"metadata" json:"metadata,omitempty"`
	SentAt            *time.Time     `db:"sent_at" json:"sentAt,omitempty"`
	DeliveredAt       *time.Time     `db:"delivered_at" json:"deliveredAt,omitempty"`
	ReadAt            *time.Time     `db:"read_at" json:"readAt,omitempty"`
	FailedAt          *time.Time     `db:"failed_at" json:"failedAt,omitempty"`
	ErrorMessage      *string        `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updatedAt"`
}

// CurrentStatus returns the send status, or "" for customer messages.
func (m *Message) CurrentStatus() MessageStatus {
	if m.Status == nil {
		return ""
	}
	return *m.Status
}

// MetadataKey is the metadata field holding a provider message id, e.g. whatsapp_message_id.
func MetadataKey(channel Channel) string {
	return string(channel) + "_message_id"
}

// DispatchResult is what a channel sender reports after a successful provider call.
type DispatchResult struct {
	ProviderMessageID string
	Metadata          JSONMap
}

// StatusPtr is a small helper for building messages in code and tests.
func StatusPtr(s MessageStatus) *MessageStatus {
	return &s
}
