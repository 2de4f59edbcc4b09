package identity

import (
	"context"

	"github.com/onurcolak/inbox-delivery-service/pkg/meta"
)

type instagramProfileClient interface {
	GetInstagramProfile(ctx context.Context, accessToken, userID string) (*meta.Profile, error)
}

// InstagramProfiles resolves Instagram-scoped user ids to names via the Graph API.
type InstagramProfiles struct {
	client instagramProfileClient
}

func NewInstagramProfiles(client instagramProfileClient) *InstagramProfiles {
	return &InstagramProfiles{client: client}
}

func (p *InstagramProfiles) FetchDisplayName(ctx context.Context, accessToken, customerID string) (string, error) {
	profile, err := p.client.GetInstagramProfile(ctx, accessToken, customerID)
	if err != nil {
		return "", err
	}
	return profile.DisplayName(), nil
}
