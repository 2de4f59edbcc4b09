package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelInstagram Channel = "instagram"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTikTok    Channel = "tiktok"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelInstagram, ChannelWhatsApp, ChannelTikTok:
		return true
	}
	return false
}

func (c Channel) DisplayName() string {
	switch c {
	case ChannelEmail:
		return "Email"
	case ChannelInstagram:
		return "Instagram"
	case ChannelWhatsApp:
		return "WhatsApp"
	case ChannelTikTok:
		return "TikTok"
	}
	return string(c)
}

// NormalizeCustomerKey turns a provider identifier into the form stored in
// conversations.customer_key, so lookups and inserts agree.
func NormalizeCustomerKey(channel Channel, id string) string {
	id = strings.TrimSpace(id)

	switch channel {
	case ChannelWhatsApp:
		var b strings.Builder
		for _, r := range id {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		if b.Len() == 0 {
			return ""
		}
		return "+" + b.String()
	case ChannelEmail:
		return strings.ToLower(id)
	}

	return id
}

// JSONMap is a JSON object column (metadata on connections and messages).
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func (m *JSONMap) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}

	if len(data) == 0 {
		*m = nil
		return nil
	}

	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	*m = out
	return nil
}

// String returns the value for key when it is a non-empty string.
func (m JSONMap) String(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Merge returns a copy of m with other's keys applied on top.
func (m JSONMap) Merge(other JSONMap) JSONMap {
	out := make(JSONMap, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
