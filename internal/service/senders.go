package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/mailer"
)

// ChannelSender performs the provider call for one channel. Its error text is
// stored as the message's error_message, so it is written for the business.
type ChannelSender interface {
	Channel() domain.Channel
	Send(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (domain.DispatchResult, error)
}

type connectionSource interface {
	ActiveConnection(ctx context.Context, businessID string, platform domain.Channel) (*domain.Connection, string, error)
}

// NewSenderRegistry indexes senders by the channel they serve.
func NewSenderRegistry(senders ...ChannelSender) map[domain.Channel]ChannelSender {
	registry := make(map[domain.Channel]ChannelSender, len(senders))
	for _, s := range senders {
		registry[s.Channel()] = s
	}
	return registry
}

func dispatchResult(channel domain.Channel, providerMessageID string) domain.DispatchResult {
	res := domain.DispatchResult{ProviderMessageID: providerMessageID}
	if providerMessageID != "" {
		res.Metadata = domain.JSONMap{domain.MetadataKey(channel): providerMessageID}
	}
	return res
}

type emailClient interface {
	Configured() bool
	Send(ctx context.Context, email mailer.Email) (string, error)
}

type EmailSender struct {
	mailer emailClient
}

func NewEmailSender(mailer emailClient) *EmailSender {
	return &EmailSender{mailer: mailer}
}

func (s *EmailSender) Channel() domain.Channel { return domain.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (domain.DispatchResult, error) {
	if s.mailer == nil || !s.mailer.Configured() {
		return domain.DispatchResult{}, errors.New("Email provider not configured")
	}

	to := conv.CustomerAddress()
	if to == "" {
		return domain.DispatchResult{}, errors.New("Customer email address missing")
	}

	subject := "New message"
	if msg.SenderName != "" {
		subject = "New message from " + msg.SenderName
	}

	id, err := s.mailer.Send(ctx, mailer.Email{To: to, Subject: subject, Text: msg.Content})
	if err != nil {
		return domain.DispatchResult{}, err
	}

	return dispatchResult(domain.ChannelEmail, id), nil
}

type instagramClient interface {
	SendInstagramMessage(ctx context.Context, accessToken, igUserID, recipientID, text string) (string, error)
}

type InstagramSender struct {
	connections connectionSource
	client      instagramClient
}

func NewInstagramSender(connections connectionSource, client instagramClient) *InstagramSender {
	return &InstagramSender{connections: connections, client: client}
}

func (s *InstagramSender) Channel() domain.Channel { return domain.ChannelInstagram }

func (s *InstagramSender) Send(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (domain.DispatchResult, error) {
	conn, token, err := s.connections.ActiveConnection(ctx, conv.BusinessID, domain.ChannelInstagram)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	recipient := conv.CustomerAddress()
	if recipient == "" {
		return domain.DispatchResult{}, errors.New("Customer Instagram ID missing")
	}

	id, err := s.client.SendInstagramMessage(ctx, token, conn.PlatformUserID, recipient, msg.Content)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	return dispatchResult(domain.ChannelInstagram, id), nil
}

type whatsAppClient interface {
	SendWhatsAppMessage(ctx context.Context, accessToken, phoneNumberID, to, text string) (string, error)
}

type WhatsAppSender struct {
	connections connectionSource
	client      whatsAppClient
}

func NewWhatsAppSender(connections connectionSource, client whatsAppClient) *WhatsAppSender {
	return &WhatsAppSender{connections: connections, client: client}
}

func (s *WhatsAppSender) Channel() domain.Channel { return domain.ChannelWhatsApp }

// Send returns the wamid so later status callbacks can find the message.
func (s *WhatsAppSender) Send(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (domain.DispatchResult, error) {
	conn, token, err := s.connections.ActiveConnection(ctx, conv.BusinessID, domain.ChannelWhatsApp)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	phoneNumberID := conn.PhoneNumberID()
	if phoneNumberID == "" {
		return domain.DispatchResult{}, errors.New("WhatsApp phone number ID missing")
	}

	to := conv.CustomerAddress()
	if to == "" {
		return domain.DispatchResult{}, errors.New("Customer phone number missing")
	}

	wamid, err := s.client.SendWhatsAppMessage(ctx, token, phoneNumberID, to, msg.Content)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	return dispatchResult(domain.ChannelWhatsApp, wamid), nil
}

type tiktokClient interface {
	SendDirectMessage(ctx context.Context, accessToken, recipientOpenID, text string) (string, error)
}

type TikTokSender struct {
	connections connectionSource
	client      tiktokClient
}

func NewTikTokSender(connections connectionSource, client tiktokClient) *TikTokSender {
	return &TikTokSender{connections: connections, client: client}
}

func (s *TikTokSender) Channel() domain.Channel { return domain.ChannelTikTok }

func (s *TikTokSender) Send(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (domain.DispatchResult, error) {
	_, token, err := s.connections.ActiveConnection(ctx, conv.BusinessID, domain.ChannelTikTok)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	recipient := conv.CustomerAddress()
	if recipient == "" {
		return domain.DispatchResult{}, errors.New("Customer TikTok ID missing")
	}

	id, err := s.client.SendDirectMessage(ctx, token, recipient, msg.Content)
	if err != nil {
		return domain.DispatchResult{}, err
	}

	return dispatchResult(domain.ChannelTikTok, id), nil
}

func unsupportedChannel(channel domain.Channel) error {
	return fmt.Errorf("Unsupported channel: %s", channel)
}
