package domain

import "time"

type ConversationStatus string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

type ArchiveType string

const (
	ArchiveArchived ArchiveType = "archived"
	ArchiveResolved ArchiveType = "resolved"
)

// Conversation is one customer's thread with one business on one channel.
// (BusinessID, Channel, CustomerKey) is unique among non-deleted rows.
type Conversation struct {
	ID                  int64              `db:"id" json:"id"`
	BusinessID          string             `db:"business_id" json:"businessId"`
	Channel             Channel            `db:"channel" json:"channel"`
	CustomerKey         string             `db:"customer_key" json:"customerKey"`
	CustomerName        string             `db:"customer_name" json:"customerName"`
	CustomerEmail       *string            `db:"customer_email" json:"customerEmail,omitempty"`
	CustomerInstagramID *string            `db:"customer_instagram_id" json:"customerInstagramId,omitempty"`
	CustomerPhone       *string            `db:"customer_phone" json:"customerPhone,omitempty"`
	CustomerTikTokID    *string            `db:"customer_tiktok_id" json:"customerTiktokId,omitempty"`
	Status              ConversationStatus `db:"status" json:"status"`
	ArchiveType         *ArchiveType       `db:"archive_type" json:"archiveType,omitempty"`
	UnreadCount         int                `db:"unread_count" json:"unreadCount"`
	LastMessageAt       *time.Time         `db:"last_message_at" json:"lastMessageAt,omitempty"`
	IsSimulated         bool               `db:"is_simulated" json:"isSimulated"`
	DeletedAt           *time.Time         `db:"deleted_at" json:"-"`
	CreatedAt           time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updatedAt"`
}

// NewConversation builds an unsaved conversation for a customer identifier,
// filling the channel-specific address column.
func NewConversation(businessID string, channel Channel, customerID, customerName string) *Conversation {
	key := NormalizeCustomerKey(channel, customerID)
	if customerName == "" {
		customerName = customerID
	}

	conv := &Conversation{
		BusinessID:   businessID,
		Channel:      channel,
		CustomerKey:  key,
		CustomerName: customerName,
		Status:       ConversationOpen,
	}

	addr := key
	switch channel {
	case ChannelEmail:
		conv.CustomerEmail = &addr
	case ChannelInstagram:
		conv.CustomerInstagramID = &addr
	case ChannelWhatsApp:
		conv.CustomerPhone = &addr
	case ChannelTikTok:
		conv.CustomerTikTokID = &addr
	}

	return conv
}

// CustomerAddress returns the identifier used to reach the customer on the
// conversation's channel, or "" when it is missing.
func (c *Conversation) CustomerAddress() string {
	var p *string
	switch c.Channel {
	case ChannelEmail:
		p = c.CustomerEmail
	case ChannelInstagram:
		p = c.CustomerInstagramID
	case ChannelWhatsApp:
		p = c.CustomerPhone
	case ChannelTikTok:
		p = c.CustomerTikTokID
	}
	if p == nil {
		return ""
	}
	return *p
}
