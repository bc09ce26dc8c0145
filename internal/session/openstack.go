package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/tokens"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"
	gocache "github.com/patrickmn/go-cache"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/config"
	"github.com/azimuth-cloud/azimuth-portal/internal/models"
	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/metrics"
)

// CredentialProviderOpenStackToken is the provider name under which
// OpenStack sessions issue scoped Keystone tokens.
const CredentialProviderOpenStackToken = "openstack_token"

// keypairPrefix namespaces the portal's keypair among any the user created
// themselves.
const keypairPrefix = "azimuth-"

// OpenStackProvider builds sessions backed by a Keystone identity service.
// The opaque session token is a raw Keystone token.
type OpenStackProvider struct {
	authURL       string
	availability  gophercloud.Availability
	introspection *gocache.Cache
}

// NewOpenStackProvider normalizes the auth URL and sets up the token
// introspection cache.
func NewOpenStackProvider(cfg *config.Config) *OpenStackProvider {
	authURL := strings.TrimSuffix(cfg.OpenStackAuthURL, "/")
	if !strings.HasSuffix(authURL, "/v3") {
		authURL += "/v3"
	}
	availability := gophercloud.AvailabilityPublic
	switch cfg.OpenStackInterface {
	case "internal":
		availability = gophercloud.AvailabilityInternal
	case "admin":
		availability = gophercloud.AvailabilityAdmin
	}
	return &OpenStackProvider{
		authURL:       authURL,
		availability:  availability,
		introspection: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// AuthURL returns the normalized Keystone v3 endpoint.
func (p *OpenStackProvider) AuthURL() string { return p.authURL }

func (p *OpenStackProvider) FromToken(ctx context.Context, tok string) (Session, error) {
	if tok == "" {
		return nil, apperrors.AuthenticationExpired("no token provided")
	}
	metrics.SessionsActive.Inc()
	return &openstackSession{provider: p, tok: tok}, nil
}

// identityClient wraps a token in a service client pointed at Keystone.
// No authentication round trip happens here; the token is sent as-is on
// each request.
func (p *OpenStackProvider) identityClient(tok string) (*gophercloud.ServiceClient, error) {
	provider, err := openstack.NewClient(p.authURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "building identity client")
	}
	provider.SetToken(tok)
	return &gophercloud.ServiceClient{
		ProviderClient: provider,
		Endpoint:       p.authURL + "/",
	}, nil
}

// keystoneToken is the token body returned by Keystone introspection.
type keystoneToken struct {
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Project struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
	ApplicationCredential *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"application_credential"`
	ExpiresAt time.Time `json:"expires_at"`
}

type openstackSession struct {
	provider *OpenStackProvider
	tok      string
}

func (s *openstackSession) Token() string { return s.tok }

func (s *openstackSession) Close() error {
	metrics.SessionsActive.Dec()
	return nil
}

// classify maps a gophercloud error to the portal's error taxonomy. The
// operation names the call for the message only.
func classify(err error, operation string) error {
	var unexpected gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &unexpected) {
		return apperrors.FromStatusError(unexpected.Actual, operation)
	}
	return apperrors.Wrap(apperrors.KindCommunicationError, err, "%s", operation)
}

// introspect validates the token against Keystone and returns its body.
// Results are cached for a short window to keep repeated calls within one
// burst of requests from hammering Keystone.
func (s *openstackSession) introspect(ctx context.Context) (*keystoneToken, error) {
	if cached, ok := s.provider.introspection.Get(s.tok); ok {
		return cached.(*keystoneToken), nil
	}

	client, err := s.provider.identityClient(s.tok)
	if err != nil {
		return nil, err
	}
	result := tokens.Get(ctx, client, s.tok)
	if result.Err != nil {
		var unexpected gophercloud.ErrUnexpectedResponseCode
		if errors.As(result.Err, &unexpected) &&
			(unexpected.Actual == http.StatusUnauthorized || unexpected.Actual == http.StatusNotFound) {
			// A 404 on the subject token means the token is gone, not
			// that a resource is missing.
			return nil, apperrors.AuthenticationExpired("token is no longer valid")
		}
		return nil, classify(result.Err, "introspecting token")
	}

	var body keystoneToken
	if err := result.ExtractInto(&body); err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "decoding token body")
	}

	ttl := gocache.DefaultExpiration
	if !body.ExpiresAt.IsZero() {
		if remaining := time.Until(body.ExpiresAt); remaining < 5*time.Minute {
			ttl = remaining
		}
	}
	if ttl > 0 {
		s.provider.introspection.Set(s.tok, &body, ttl)
	}
	return &body, nil
}

func (s *openstackSession) User(ctx context.Context) (*models.User, error) {
	body, err := s.introspect(ctx)
	if err != nil {
		return nil, err
	}
	return &models.User{ID: body.User.ID, Username: body.User.Name}, nil
}

// Tenancies lists the projects the user belongs to. A token issued from an
// application credential is pinned to its own project: application
// credentials cannot rescope, so only that project is visible.
func (s *openstackSession) Tenancies(ctx context.Context) ([]models.Tenancy, error) {
	body, err := s.introspect(ctx)
	if err != nil {
		return nil, err
	}
	if body.ApplicationCredential != nil {
		if body.Project.ID == "" {
			return []models.Tenancy{}, nil
		}
		return []models.Tenancy{{ID: body.Project.ID, Name: body.Project.Name}}, nil
	}

	client, err := s.provider.identityClient(s.tok)
	if err != nil {
		return nil, err
	}
	pages, err := users.ListProjects(client, body.User.ID).AllPages(ctx)
	if err != nil {
		return nil, classify(err, "listing projects")
	}
	userProjects, err := projects.ExtractProjects(pages)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "decoding project list")
	}

	tenancies := make([]models.Tenancy, 0, len(userProjects))
	for _, project := range userProjects {
		if !project.Enabled {
			continue
		}
		tenancies = append(tenancies, models.Tenancy{ID: project.ID, Name: project.Name})
	}
	return tenancies, nil
}

// scopedToken returns a token scoped to the given project along with the
// service catalog issued with it. The session's own token is reused when it
// is already scoped appropriately; otherwise a rescoped token is created.
// An empty projectID means "any project the user belongs to".
func (s *openstackSession) scopedToken(ctx context.Context, projectID string) (string, *tokens.ServiceCatalog, error) {
	body, err := s.introspect(ctx)
	if err != nil {
		return "", nil, err
	}

	if projectID == "" {
		if body.Project.ID != "" {
			projectID = body.Project.ID
		} else {
			tenancies, err := s.Tenancies(ctx)
			if err != nil {
				return "", nil, err
			}
			if len(tenancies) == 0 {
				return "", nil, apperrors.InvalidOperation("user does not belong to any tenancies")
			}
			projectID = tenancies[0].ID
		}
	}

	client, err := s.provider.identityClient(s.tok)
	if err != nil {
		return "", nil, err
	}

	if body.Project.ID == projectID {
		result := tokens.Get(ctx, client, s.tok)
		if result.Err != nil {
			return "", nil, classify(result.Err, "fetching service catalog")
		}
		catalog, err := result.ExtractServiceCatalog()
		if err != nil {
			return "", nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "decoding service catalog")
		}
		return s.tok, catalog, nil
	}

	if body.ApplicationCredential != nil {
		return "", nil, apperrors.InvalidOperation(
			"application credential is not valid for tenancy %s", projectID)
	}

	result := tokens.Create(ctx, client, &tokens.AuthOptions{
		TokenID: s.tok,
		Scope:   tokens.Scope{ProjectID: projectID},
	})
	if result.Err != nil {
		var unexpected gophercloud.ErrUnexpectedResponseCode
		if errors.As(result.Err, &unexpected) && unexpected.Actual == http.StatusUnauthorized {
			return "", nil, apperrors.PermissionDenied("not authorized for tenancy %s", projectID)
		}
		return "", nil, classify(result.Err, "rescoping token")
	}
	scoped, err := result.ExtractTokenID()
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "reading rescoped token")
	}
	catalog, err := result.ExtractServiceCatalog()
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "decoding service catalog")
	}
	return scoped, catalog, nil
}

// computeClient builds a Nova client from a token scoped to any of the
// user's projects. Keypairs are user-scoped in Nova, so the project used
// does not matter.
func (s *openstackSession) computeClient(ctx context.Context) (*gophercloud.ServiceClient, error) {
	scoped, catalog, err := s.scopedToken(ctx, "")
	if err != nil {
		return nil, err
	}
	endpoint, err := openstack.V3EndpointURL(catalog, gophercloud.EndpointOpts{
		Type:         "compute",
		Availability: s.provider.availability,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "locating compute endpoint")
	}
	provider, err := openstack.NewClient(s.provider.authURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "building compute client")
	}
	provider.SetToken(scoped)
	return &gophercloud.ServiceClient{ProviderClient: provider, Endpoint: endpoint}, nil
}

// keypairName derives the portal-managed keypair name for the user. Nova
// keypair names allow a restricted character set, so the username is
// sanitized.
func (s *openstackSession) keypairName(ctx context.Context) (string, error) {
	body, err := s.introspect(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range strings.ToLower(body.User.Name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return keypairPrefix + b.String(), nil
}

func (s *openstackSession) SSHPublicKey(ctx context.Context) (string, error) {
	name, err := s.keypairName(ctx)
	if err != nil {
		return "", err
	}
	client, err := s.computeClient(ctx)
	if err != nil {
		return "", err
	}
	keypair, err := keypairs.Get(ctx, client, name, keypairs.GetOpts{}).Extract()
	if err != nil {
		if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return "", apperrors.NotFound("no SSH public key has been registered")
		}
		return "", classify(err, "fetching keypair")
	}
	return keypair.PublicKey, nil
}

// UpdateSSHPublicKey replaces the portal-managed keypair. Nova keypairs are
// immutable, so the update is a delete followed by a create; a missing
// keypair on delete is fine.
func (s *openstackSession) UpdateSSHPublicKey(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if !validSSHPublicKey(key) {
		return "", apperrors.BadInput("not a valid SSH public key")
	}
	name, err := s.keypairName(ctx)
	if err != nil {
		return "", err
	}
	client, err := s.computeClient(ctx)
	if err != nil {
		return "", err
	}

	if err := keypairs.Delete(ctx, client, name, keypairs.DeleteOpts{}).ExtractErr(); err != nil {
		if !gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
			return "", classify(err, "deleting keypair")
		}
	}
	created, err := keypairs.Create(ctx, client, keypairs.CreateOpts{
		Name:      name,
		PublicKey: key,
	}).Extract()
	if err != nil {
		if gophercloud.ResponseCodeIs(err, http.StatusBadRequest) {
			return "", apperrors.BadInput("keypair was rejected: not a valid SSH public key")
		}
		return "", classify(err, "creating keypair")
	}
	return created.PublicKey, nil
}

func validSSHPublicKey(key string) bool {
	fields := strings.Fields(key)
	if len(fields) < 2 {
		return false
	}
	switch {
	case strings.HasPrefix(fields[0], "ssh-"),
		strings.HasPrefix(fields[0], "ecdsa-"),
		strings.HasPrefix(fields[0], "sk-"):
		return true
	}
	return false
}

// Credential issues a Keystone token scoped to the tenancy. Only the
// OpenStack token provider is served.
func (s *openstackSession) Credential(ctx context.Context, tenancyID, provider string) (*models.Credential, error) {
	if provider != CredentialProviderOpenStackToken {
		return nil, nil
	}
	if tenancyID == "" {
		return nil, apperrors.BadInput("a tenancy is required to issue a credential")
	}
	scoped, _, err := s.scopedToken(ctx, tenancyID)
	if err != nil {
		return nil, err
	}
	return &models.Credential{
		Provider: CredentialProviderOpenStackToken,
		Data: map[string]string{
			"auth_url":   s.provider.authURL,
			"project_id": tenancyID,
			"token":      scoped,
		},
	}, nil
}
