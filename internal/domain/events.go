package domain

import "time"

// InboundEvent is a single provider message event after parsing, before any
// identity resolution.
type InboundEvent struct {
	Channel           Channel
	SenderID          string
	RecipientID       string
	ProviderMessageID string
	Text              string
	// SenderName is set when the payload itself carries a display name.
	SenderName string
	// IsEcho is the provider's explicit echo flag, when it sends one.
	IsEcho    bool
	Timestamp time.Time
	Metadata  JSONMap
}

// StatusUpdate is a provider-pushed delivery receipt.
type StatusUpdate struct {
	Channel           Channel
	ProviderMessageID string
	Status            MessageStatus
	Timestamp         time.Time
	RecipientID       string
	ErrorMessage      string
}

type InboundOutcome string

const (
	OutcomeStored        InboundOutcome = "stored"
	OutcomeDuplicate     InboundOutcome = "duplicate"
	OutcomeNoBusiness    InboundOutcome = "no_business"
	OutcomeQuotaExceeded InboundOutcome = "quota_exceeded"
	OutcomeUnknownEcho   InboundOutcome = "unknown_echo"
	OutcomeIgnored       InboundOutcome = "ignored"
)
