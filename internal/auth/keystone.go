package auth

import (
	"context"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"

	"github.com/azimuth-cloud/azimuth-portal/internal/config"
)

// KeystonePasswordBackend exchanges a username and password for an unscoped
// Keystone token. Rejected credentials surface as an empty token; there is
// no reason to distinguish bad passwords from unknown users here.
type KeystonePasswordBackend struct {
	authURL string
	domain  string
}

// NewKeystonePasswordBackend builds the backend from configuration.
func NewKeystonePasswordBackend(cfg *config.Config) *KeystonePasswordBackend {
	return &KeystonePasswordBackend{
		authURL: cfg.OpenStackAuthURL,
		domain:  cfg.OpenStackDomain,
	}
}

func (b *KeystonePasswordBackend) Authenticate(ctx context.Context, username, password string) (string, error) {
	provider, err := openstack.AuthenticatedClient(ctx, gophercloud.AuthOptions{
		IdentityEndpoint: b.authURL,
		Username:         username,
		Password:         password,
		DomainName:       b.domain,
	})
	if err != nil {
		// Bad credentials and unreachable Keystone both end the flow the
		// same way for the user; the detail stays in the log.
		return "", err
	}
	tok, err := provider.GetAuthResult().ExtractTokenID()
	if err != nil {
		return "", err
	}
	return tok, nil
}
