// Package cluster maps cluster types onto job templates and clusters onto
// inventories in an AWX-style job backend, deriving cluster state from job
// history rather than storing it.
package cluster

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/awx"
	"github.com/azimuth-cloud/azimuth-portal/internal/config"
	"github.com/azimuth-cloud/azimuth-portal/internal/models"
	"github.com/azimuth-cloud/azimuth-portal/internal/session"
)

// credentialTypeNames maps session credential providers to the credential
// type names expected to exist in the job backend.
var credentialTypeNames = map[string]string{
	session.CredentialProviderOpenStackToken: "OpenStack Token",
	session.CredentialProviderOIDC:           "OIDC Access Token",
}

// inventoryCacheSize bounds the per-manager inventory cache.
const inventoryCacheSize = 64

// Engine is the long-lived half of the cluster subsystem. It owns the job
// backend client and hands out tenancy-scoped managers.
type Engine struct {
	cfg          *config.Config
	client       *awx.Client
	organisation *awx.Organisation
	metadata     *metadataResolver
}

// NewEngine connects to the job backend and resolves the organisation every
// other object hangs off. A missing organisation is a deployment error.
func NewEngine(ctx context.Context, cfg *config.Config) (*Engine, error) {
	client, err := awx.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("building job backend client: %w", err)
	}
	organisation, err := client.FindOrganisation(ctx, cfg.AWXOrganisation)
	if err != nil {
		client.Close()
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, apperrors.ImproperlyConfigured(
				"organisation %q does not exist in the job backend", cfg.AWXOrganisation)
		}
		return nil, err
	}
	return &Engine{
		cfg:          cfg,
		client:       client,
		organisation: organisation,
		metadata:     newMetadataResolver(),
	}, nil
}

// Close releases the job backend client.
func (e *Engine) Close() {
	e.client.Close()
}

// team is either already provisioned in the backend (reified, with an id) or
// pending (name only, created lazily before the first write).
type team struct {
	name     string
	id       int
	reified  bool
	allowAll bool // pending teams only; reified teams derive this from roles
}

// ManagerForTenancy builds a manager scoped to one tenancy. The tenancy's
// team is looked up but never created here; creation is deferred until a
// write actually needs it.
func (e *Engine) ManagerForTenancy(ctx context.Context, tenancy models.Tenancy) (*Manager, error) {
	var t team
	existing, err := e.client.FindTeam(ctx, e.organisation.ID, tenancy.Name)
	switch {
	case err == nil:
		t = team{name: existing.Name, id: existing.ID, reified: true}
	case apperrors.IsKind(err, apperrors.KindNotFound):
		if !e.cfg.CreateTeams {
			return nil, apperrors.ImproperlyConfigured(
				"no team exists for tenancy %q and team creation is disabled", tenancy.Name)
		}
		t = team{name: tenancy.Name, allowAll: e.cfg.CreateTeamAllowAllPermission}
	default:
		return nil, err
	}

	inventories, err := lru.New[int, *awx.Inventory](inventoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("building inventory cache: %w", err)
	}
	return &Manager{
		engine:      e,
		tenancy:     tenancy,
		team:        t,
		inventories: inventories,
	}, nil
}

// Manager is the per-tenancy, request-scoped view of the cluster engine.
type Manager struct {
	engine      *Engine
	tenancy     models.Tenancy
	team        team
	inventories *lru.Cache[int, *awx.Inventory]
}

// Close drops any cached state. The backend client belongs to the engine and
// stays open.
func (m *Manager) Close() {
	m.inventories.Purge()
}

// reify creates the pending team in the backend, granting the organisation
// execute role when the team was pending with allow-all. Reads never call
// this; every write does.
func (m *Manager) reify(ctx context.Context) error {
	if m.team.reified {
		return nil
	}
	created, err := m.engine.client.CreateTeam(ctx, m.engine.organisation.ID, m.team.name)
	if err != nil {
		return err
	}
	slog.Info("created team for tenancy", "team", created.Name, "tenancy_id", m.tenancy.ID)
	if m.team.allowAll {
		role, err := m.engine.client.OrganisationExecuteRole(ctx, m.engine.organisation.ID)
		if err != nil {
			return err
		}
		if err := m.engine.client.GrantTeamRole(ctx, created.ID, role.ID); err != nil {
			return err
		}
	}
	m.team = team{name: created.Name, id: created.ID, reified: true}
	return nil
}

// permissions reports whether the team may execute every template, plus the
// explicit per-template grants. Pending teams never have explicit grants.
func (m *Manager) permissions(ctx context.Context) (bool, map[int]bool, error) {
	if !m.team.reified {
		return m.team.allowAll, nil, nil
	}
	roles, err := m.engine.client.TeamRoles(ctx, m.team.id)
	if err != nil {
		return false, nil, err
	}
	allowAll := false
	grants := make(map[int]bool)
	for _, role := range roles {
		if role.Name != "Execute" {
			continue
		}
		switch role.SummaryFields.ResourceType {
		case "organization":
			if role.SummaryFields.ResourceID == m.engine.organisation.ID {
				allowAll = true
			}
		case "job_template":
			grants[role.SummaryFields.ResourceID] = true
		}
	}
	return allowAll, grants, nil
}

// translateCredential turns a session credential into a backend credential
// owned by the team. An unknown provider aborts before any backend write.
func (m *Manager) translateCredential(ctx context.Context, name string, credential *models.Credential) (*awx.Credential, error) {
	if credential == nil {
		return nil, apperrors.InvalidOperation("a credential is required for this operation")
	}
	typeName, ok := credentialTypeNames[credential.Provider]
	if !ok {
		return nil, apperrors.InvalidOperation(
			"unknown credential provider %q", credential.Provider)
	}
	credType, err := m.engine.client.FindCredentialType(ctx, typeName)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, apperrors.ImproperlyConfigured(
				"credential type %q does not exist in the job backend", typeName)
		}
		return nil, err
	}
	inputs := make(map[string]any, len(credential.Data))
	for k, v := range credential.Data {
		inputs[k] = v
	}
	return m.engine.client.CreateCredential(ctx, name, credType.ID, m.team.id, inputs)
}
