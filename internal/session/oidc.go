package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/config"
	"github.com/azimuth-cloud/azimuth-portal/internal/models"
	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/metrics"
	"github.com/azimuth-cloud/azimuth-portal/internal/token"
)

// CredentialProviderOIDC is the provider name under which OIDC sessions
// issue credentials.
const CredentialProviderOIDC = "oidc_token"

// OIDCProvider builds sessions whose identity comes from an OIDC userinfo
// endpoint and whose tenancies are discovered from labelled Kubernetes
// namespaces.
type OIDCProvider struct {
	cfg          *config.Config
	k8s          kubernetes.Interface
	http         *http.Client
	tokenURL     string
	userInfoURL  string
	clientID     string
	clientSecret string
}

// oidcEndpoints is the fragment of the discovery document we need beyond
// what go-oidc exposes directly.
type oidcEndpoints struct {
	TokenURL    string `json:"token_endpoint"`
	UserInfoURL string `json:"userinfo_endpoint"`
}

// NewOIDCProvider discovers the issuer endpoints and connects to the
// Kubernetes API used for tenancy discovery.
func NewOIDCProvider(ctx context.Context, cfg *config.Config) (*OIDCProvider, error) {
	clientset, err := newKubernetesClient(cfg.KubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes client: %w", err)
	}
	return NewOIDCProviderWithClientset(ctx, cfg, clientset)
}

// NewOIDCProviderWithClientset is the injectable constructor used by tests.
func NewOIDCProviderWithClientset(ctx context.Context, cfg *config.Config, clientset kubernetes.Interface) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC issuer: %w", err)
	}
	var endpoints oidcEndpoints
	if err := provider.Claims(&endpoints); err != nil {
		return nil, fmt.Errorf("reading discovery document: %w", err)
	}
	if endpoints.TokenURL == "" || endpoints.UserInfoURL == "" {
		return nil, fmt.Errorf("issuer %s does not advertise token and userinfo endpoints", cfg.OIDCIssuerURL)
	}
	return &OIDCProvider{
		cfg:          cfg,
		k8s:          clientset,
		http:         &http.Client{Timeout: 30 * time.Second},
		tokenURL:     endpoints.TokenURL,
		userInfoURL:  endpoints.UserInfoURL,
		clientID:     cfg.OIDCClientID,
		clientSecret: cfg.OIDCClientSecret,
	}, nil
}

func newKubernetesClient(kubeconfigPath string) (kubernetes.Interface, error) {
	var restCfg *rest.Config
	var err error
	if kubeconfigPath == "" {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restCfg)
}

// FromToken wraps the token in a session. No network calls happen here;
// identity and tenancies are resolved lazily.
func (p *OIDCProvider) FromToken(ctx context.Context, opaque string) (Session, error) {
	metrics.SessionsActive.Inc()
	return &oidcSession{provider: p, opaque: opaque, now: time.Now}, nil
}

// userClaims is the subset of userinfo claims the portal consumes.
type userClaims struct {
	Subject           string   `json:"sub"`
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Groups            []string `json:"groups"`
}

type oidcSession struct {
	provider *OIDCProvider
	opaque   string
	claims   *userClaims // memoized userinfo; dropped after a refresh
	now      func() time.Time
}

func (s *oidcSession) Token() string { return s.opaque }

func (s *oidcSession) Close() error {
	metrics.SessionsActive.Dec()
	return nil
}

// accessToken returns a usable access token, refreshing first when the
// envelope carries a refresh token and the access token is known to be
// expired. An unknown expiry skips the refresh: the existing token keeps
// being used until the backend rejects it.
func (s *oidcSession) accessToken(ctx context.Context) (string, error) {
	env := token.Decode(s.opaque)
	if env.RefreshToken != "" && env.ExpiryKnown() && env.Expired(s.now()) {
		if err := s.refresh(ctx, env); err != nil {
			return "", err
		}
		env = token.Decode(s.opaque)
	}
	return env.AccessToken, nil
}

// refresh performs a refresh-grant request and swaps the session token in
// place. The caller is expected to persist the new Token() value after the
// request completes.
func (s *oidcSession) refresh(ctx context.Context, env token.Envelope) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", env.RefreshToken)
	form.Set("client_id", s.provider.clientID)
	if s.provider.clientSecret != "" {
		form.Set("client_secret", s.provider.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.provider.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.Wrap(apperrors.KindCommunicationError, err, "building refresh request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.provider.http.Do(req)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return apperrors.Wrap(apperrors.KindCommunicationError, err, "token refresh request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		// fall through to decode
	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		// The grant was rejected: the refresh token is spent or revoked.
		// Force a fresh login rather than retrying.
		metrics.TokenRefreshTotal.WithLabelValues("expired").Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return apperrors.AuthenticationExpired("token refresh rejected with status %d", resp.StatusCode)
	default:
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return apperrors.CommunicationError("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return apperrors.CommunicationError("malformed token endpoint response")
	}

	next := token.Envelope{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
	}
	if next.RefreshToken == "" {
		// Some IdPs only return the refresh token once; keep the old one.
		next.RefreshToken = env.RefreshToken
	}
	if body.ExpiresIn > 0 {
		next.ExpiresAt = s.now().Add(time.Duration(body.ExpiresIn) * time.Second).Unix()
	}
	opaque, err := token.Encode(next)
	if err != nil {
		return apperrors.Wrap(apperrors.KindCommunicationError, err, "encoding refreshed token")
	}
	s.opaque = opaque
	s.claims = nil // identity may have changed with the new token
	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	return nil
}

// userInfo fetches and memoizes the userinfo claims.
func (s *oidcSession) userInfo(ctx context.Context) (*userClaims, error) {
	if s.claims != nil {
		return s.claims, nil
	}
	accessToken, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.provider.userInfoURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "building userinfo request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.provider.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "userinfo request")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, apperrors.FromStatusError(resp.StatusCode, "userinfo")
	}

	var claims userClaims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "decoding userinfo response")
	}
	s.claims = &claims
	return s.claims, nil
}

func (s *oidcSession) User(ctx context.Context) (*models.User, error) {
	claims, err := s.userInfo(ctx)
	if err != nil {
		return nil, err
	}
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Subject
	}
	return &models.User{ID: claims.Subject, Username: username, Email: claims.Email}, nil
}

// Tenancies discovers tenancies from namespaces labelled with a tenancy id.
// A namespace is visible to the user only when its tenant-group annotation
// names one of the user's OIDC groups; without the annotation no OIDC
// principal may use the tenancy.
func (s *oidcSession) Tenancies(ctx context.Context) ([]models.Tenancy, error) {
	claims, err := s.userInfo(ctx)
	if err != nil {
		return nil, err
	}
	if len(claims.Groups) == 0 {
		// No groups means no visible tenancies; skip the namespace scan.
		slog.Warn("user has no OIDC groups", "user", claims.Subject)
		return []models.Tenancy{}, nil
	}
	groups := make(map[string]bool, len(claims.Groups))
	for _, g := range claims.Groups {
		groups[g] = true
	}

	cfg := s.provider.cfg
	namespaces, err := s.tenancyNamespaces(ctx)
	if err != nil {
		return nil, err
	}

	var tenancies []models.Tenancy
	seen := make(map[string]string) // tenancy id -> namespace that claimed it
	for _, ns := range namespaces {
		current := ns.Labels[cfg.TenancyIDLabel]
		legacy := ns.Labels[cfg.TenancyIDLegacyLabel]
		id := current
		if id == "" {
			id = legacy
		}
		if current != "" && legacy != "" && current != legacy {
			slog.Warn("namespace carries conflicting tenancy id labels",
				"namespace", ns.Name, "current", current, "legacy", legacy)
		}
		if id == "" {
			continue
		}

		if claimedBy, dup := seen[id]; dup {
			slog.Error("tenancy id claimed by multiple namespaces",
				"tenancy_id", id, "namespace", ns.Name, "claimed_by", claimedBy)
			continue
		}
		seen[id] = ns.Name

		group := ns.Annotations[cfg.TenancyGroupAnnotation]
		if group == "" || !groups[group] {
			continue
		}

		name := ns.Annotations[cfg.TenancyNameAnnotation]
		if name == "" {
			name = strings.TrimPrefix(ns.Name, cfg.TenancyNamespacePrefix)
		}
		tenancies = append(tenancies, models.Tenancy{ID: id, Name: name})
	}
	if tenancies == nil {
		tenancies = []models.Tenancy{}
	}
	return tenancies, nil
}

// tenancyNamespaces lists namespaces carrying either tenancy id label,
// de-duplicating namespaces that carry both.
func (s *oidcSession) tenancyNamespaces(ctx context.Context) ([]metav1.PartialObjectMetadata, error) {
	cfg := s.provider.cfg

	currentList, err := s.provider.k8s.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		LabelSelector: cfg.TenancyIDLabel,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "listing tenancy namespaces")
	}
	legacyList, err := s.provider.k8s.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		LabelSelector: cfg.TenancyIDLegacyLabel,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCommunicationError, err, "listing legacy tenancy namespaces")
	}

	var result []metav1.PartialObjectMetadata
	names := make(map[string]bool)
	for _, ns := range currentList.Items {
		names[ns.Name] = true
		result = append(result, metav1.PartialObjectMetadata{ObjectMeta: ns.ObjectMeta})
	}
	for _, ns := range legacyList.Items {
		if names[ns.Name] {
			slog.Warn("namespace carries both tenancy id labels", "namespace", ns.Name)
			continue
		}
		result = append(result, metav1.PartialObjectMetadata{ObjectMeta: ns.ObjectMeta})
	}
	return result, nil
}

// SSHPublicKey is not available for OIDC sessions; there is no user-scoped
// key store behind this provider.
func (s *oidcSession) SSHPublicKey(ctx context.Context) (string, error) {
	return "", apperrors.UnsupportedOperation("SSH keys are not supported by the OIDC provider")
}

func (s *oidcSession) UpdateSSHPublicKey(ctx context.Context, key string) (string, error) {
	return "", apperrors.UnsupportedOperation("SSH keys are not supported by the OIDC provider")
}

// Credential issues the user's current access token scoped to a tenancy.
// Only the OIDC provider name is served; other providers get nil.
func (s *oidcSession) Credential(ctx context.Context, tenancyID, provider string) (*models.Credential, error) {
	if provider != CredentialProviderOIDC {
		return nil, nil
	}
	accessToken, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Credential{
		Provider: CredentialProviderOIDC,
		Data: map[string]string{
			"access_token": accessToken,
			"tenancy_id":   tenancyID,
		},
	}, nil
}
