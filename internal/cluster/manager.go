package cluster

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/azimuth-cloud/azimuth-portal/internal/acl"
	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/awx"
	"github.com/azimuth-cloud/azimuth-portal/internal/models"
	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/metrics"
)

// Bounds on the wait for an inventory deletion to be observed. Deletion is
// asynchronous in the backend.
const (
	deletePollAttempts = 5
	deletePollInterval = 2 * time.Second
)

// ClusterTypes lists the cluster types visible to the tenancy. A team with
// no execute permission at all sees nothing, without a backend listing call.
func (m *Manager) ClusterTypes(ctx context.Context) ([]models.ClusterType, error) {
	allowAll, grants, err := m.permissions(ctx)
	if err != nil {
		return nil, err
	}
	if !allowAll && len(grants) == 0 {
		return []models.ClusterType{}, nil
	}

	templates, err := m.engine.client.ListJobTemplates(ctx)
	if err != nil {
		return nil, err
	}
	types := make([]models.ClusterType, 0, len(templates))
	for i := range templates {
		template := &templates[i]
		if !allowAll && !grants[template.ID] {
			continue
		}
		doc, err := m.engine.metadata.resolve(ctx, template)
		if err != nil {
			return nil, err
		}
		if !m.tenancyAllowed(doc) {
			continue
		}
		types = append(types, clusterType(template, doc))
	}
	return types, nil
}

// FindClusterType resolves one cluster type by name. Types the tenancy may
// not see report NotFound, not PermissionDenied, so their existence is not
// revealed.
func (m *Manager) FindClusterType(ctx context.Context, name string) (*models.ClusterType, error) {
	template, doc, err := m.resolveType(ctx, name)
	if err != nil {
		return nil, err
	}
	result := clusterType(template, doc)
	return &result, nil
}

func (m *Manager) resolveType(ctx context.Context, name string) (*awx.JobTemplate, *typeDocument, error) {
	template, err := m.engine.client.FindJobTemplate(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	allowAll, grants, err := m.permissions(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !allowAll && !grants[template.ID] {
		return nil, nil, apperrors.NotFound("cluster type %q not found", name)
	}
	doc, err := m.engine.metadata.resolve(ctx, template)
	if err != nil {
		return nil, nil, err
	}
	if !m.tenancyAllowed(doc) {
		return nil, nil, apperrors.NotFound("cluster type %q not found", name)
	}
	return template, doc, nil
}

// Clusters lists the tenancy's clusters. Inventories whose latest job
// reached the deleted state are filtered out.
func (m *Manager) Clusters(ctx context.Context) ([]models.Cluster, error) {
	inventories, err := m.engine.client.ListInventories(ctx, m.inventoryPrefix())
	if err != nil {
		return nil, err
	}
	clusters := make([]models.Cluster, 0, len(inventories))
	for i := range inventories {
		inventory := &inventories[i]
		if !strings.HasPrefix(inventory.Name, m.inventoryPrefix()) {
			continue
		}
		cluster, err := m.clusterFromInventory(ctx, inventory)
		if err != nil {
			if apperrors.IsKind(err, apperrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		m.inventories.Add(inventory.ID, inventory)
		clusters = append(clusters, *cluster)
	}
	return clusters, nil
}

// FindCluster fetches one cluster by id.
func (m *Manager) FindCluster(ctx context.Context, id string) (*models.Cluster, error) {
	inventory, err := m.inventory(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.clusterFromInventory(ctx, inventory)
}

// inventory resolves an inventory by cluster id, from the cache when
// possible, and checks it belongs to this tenancy.
func (m *Manager) inventory(ctx context.Context, id string) (*awx.Inventory, error) {
	inventoryID, err := strconv.Atoi(id)
	if err != nil {
		return nil, apperrors.BadInput("invalid cluster id %q", id)
	}
	if cached, ok := m.inventories.Get(inventoryID); ok {
		return cached, nil
	}
	inventory, err := m.engine.client.GetInventory(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(inventory.Name, m.inventoryPrefix()) {
		// The inventory exists but belongs to another tenancy.
		return nil, apperrors.NotFound("cluster %q not found", id)
	}
	m.inventories.Add(inventoryID, inventory)
	return inventory, nil
}

func (m *Manager) inventoryPrefix() string {
	return m.tenancy.Name + "-"
}

// CreateCluster provisions a new cluster: the team is reified, the template
// inventory copied under the cluster's name, identity stamped into its
// variables and the first configuration job launched. Newly created clusters
// always get a system package upgrade on that first job.
func (m *Manager) CreateCluster(ctx context.Context, name, typeName string, params map[string]any, sshKey string, credential *models.Credential) (*models.Cluster, error) {
	if !validClusterName(name) {
		return nil, apperrors.BadInput(
			"cluster name must contain only lowercase letters, digits and hyphens")
	}
	if credential == nil {
		return nil, apperrors.InvalidOperation("a credential is required to create a cluster")
	}
	if _, ok := credentialTypeNames[credential.Provider]; !ok {
		// Checked before any backend write to avoid partial state.
		return nil, apperrors.InvalidOperation(
			"unknown credential provider %q", credential.Provider)
	}

	template, _, err := m.resolveType(ctx, typeName)
	if err != nil {
		return nil, err
	}
	if err := m.reify(ctx); err != nil {
		return nil, err
	}

	templateInventory, err := m.engine.client.FindInventory(ctx, m.engine.cfg.AWXTemplateInventory)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, apperrors.ImproperlyConfigured(
				"template inventory %q does not exist in the job backend",
				m.engine.cfg.AWXTemplateInventory)
		}
		return nil, err
	}

	inventoryName := m.inventoryPrefix() + name
	if err := m.ensureNameAvailable(ctx, inventoryName); err != nil {
		return nil, err
	}

	backendCred, err := m.translateCredential(ctx, inventoryName+"-"+uuid.NewString()[:8], credential)
	if err != nil {
		return nil, err
	}

	inventory, err := m.engine.client.CopyInventory(ctx, templateInventory.ID, inventoryName)
	if err != nil {
		return nil, err
	}

	variables := make(map[string]any, len(params)+3)
	for k, v := range params {
		variables[k] = v
	}
	variables[varClusterName] = name
	variables[varClusterType] = typeName
	variables[varClusterSSHKey] = sshKey
	if err := m.engine.client.SetInventoryVariables(ctx, inventory.ID, variables); err != nil {
		return nil, err
	}

	_, err = m.engine.client.LaunchJob(ctx, template.ID, inventory.ID,
		map[string]any{varUpgradePackages: true}, []int{backendCred.ID})
	if err != nil {
		return nil, err
	}
	metrics.ClusterOperationsTotal.WithLabelValues("create", "success").Inc()

	return &models.Cluster{
		ID:        strconv.Itoa(inventory.ID),
		Name:      name,
		Type:      typeName,
		Status:    models.ClusterStatusConfiguring,
		Params:    params,
		CreatedAt: inventory.Created,
	}, nil
}

// ensureNameAvailable handles name collisions. An inventory left behind by
// an already-deleted cluster is cleaned up, with a bounded wait for the
// asynchronous delete; a live cluster under the same name is a conflict.
func (m *Manager) ensureNameAvailable(ctx context.Context, inventoryName string) error {
	existing, err := m.engine.client.FindInventory(ctx, inventoryName)
	if apperrors.IsKind(err, apperrors.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, deriveErr := m.clusterFromInventory(ctx, existing)
	switch {
	case deriveErr == nil:
		return apperrors.BadInput("a cluster named %q already exists",
			strings.TrimPrefix(inventoryName, m.inventoryPrefix()))
	case !apperrors.IsKind(deriveErr, apperrors.KindNotFound):
		return deriveErr
	}

	// The old inventory represents a deleted cluster; remove it and wait
	// until it is really gone before reusing the name.
	slog.Info("removing stale inventory for deleted cluster", "inventory", inventoryName)
	if err := m.engine.client.DeleteInventory(ctx, existing.ID); err != nil {
		return err
	}
	m.inventories.Remove(existing.ID)
	return awx.Poll(ctx, deletePollAttempts, deletePollInterval, func(ctx context.Context) (bool, error) {
		_, err := m.engine.client.FindInventory(ctx, inventoryName)
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return true, nil
		}
		return false, err
	})
}

// UpdateCluster merges new parameter values into the cluster's variables and
// launches a configuration job.
func (m *Manager) UpdateCluster(ctx context.Context, id string, params map[string]any, credential *models.Credential) (*models.Cluster, error) {
	return m.mutate(ctx, "update", id, credential, params, map[string]any{})
}

// PatchCluster launches a configuration job that also upgrades system
// packages, without changing any parameters.
func (m *Manager) PatchCluster(ctx context.Context, id string, credential *models.Credential) (*models.Cluster, error) {
	return m.mutate(ctx, "patch", id, credential, nil, map[string]any{varUpgradePackages: true})
}

// DeleteCluster launches the job that tears the cluster down. The inventory
// itself is only removed once a later create observes the deleted state.
func (m *Manager) DeleteCluster(ctx context.Context, id string, credential *models.Credential) (*models.Cluster, error) {
	return m.mutate(ctx, "delete", id, credential, nil, map[string]any{varClusterState: clusterStateAbsent})
}

// mutate implements the shared shape of update, patch and delete: re-derive
// status first and refuse when a lifecycle job is already in flight, then
// launch the job and evict the cached inventory, since the launch is the
// mutation of record.
func (m *Manager) mutate(ctx context.Context, verb, id string, credential *models.Credential, params, extraVars map[string]any) (*models.Cluster, error) {
	if credential != nil {
		if _, ok := credentialTypeNames[credential.Provider]; !ok {
			return nil, apperrors.InvalidOperation(
				"unknown credential provider %q", credential.Provider)
		}
	}

	current, err := m.FindCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.ClusterStatusConfiguring || current.Status == models.ClusterStatusDeleting {
		metrics.ClusterOperationsTotal.WithLabelValues(verb, "rejected").Inc()
		return nil, apperrors.InvalidOperation(
			"cluster %q already has an operation in progress", current.Name)
	}

	template, _, err := m.resolveType(ctx, current.Type)
	if err != nil {
		return nil, err
	}
	if err := m.reify(ctx); err != nil {
		return nil, err
	}

	inventory, err := m.inventory(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		variables, err := m.engine.client.InventoryVariables(ctx, inventory.ID)
		if err != nil {
			return nil, err
		}
		for k, v := range params {
			variables[k] = v
		}
		if err := m.engine.client.SetInventoryVariables(ctx, inventory.ID, variables); err != nil {
			return nil, err
		}
	}

	backendCred, err := m.translateCredential(ctx, inventory.Name+"-"+uuid.NewString()[:8], credential)
	if err != nil {
		return nil, err
	}

	_, err = m.engine.client.LaunchJob(ctx, template.ID, inventory.ID, extraVars, []int{backendCred.ID})
	m.inventories.Remove(inventory.ID)
	if err != nil {
		metrics.ClusterOperationsTotal.WithLabelValues(verb, "error").Inc()
		return nil, err
	}
	metrics.ClusterOperationsTotal.WithLabelValues(verb, "success").Inc()

	result := *current
	if state, ok := extraVars[varClusterState].(string); ok && state == clusterStateAbsent {
		result.Status = models.ClusterStatusDeleting
	} else {
		result.Status = models.ClusterStatusConfiguring
	}
	result.CurrentTask = ""
	result.ErrorMessage = ""
	for k, v := range params {
		if result.Params == nil {
			result.Params = map[string]any{}
		}
		result.Params[k] = v
	}
	return &result, nil
}

// tenancyAllowed applies the document's ACL annotations to this tenancy.
func (m *Manager) tenancyAllowed(doc *typeDocument) bool {
	return acl.Allowed(doc.Annotations, m.tenancy.ID, m.tenancy.Name)
}

func validClusterName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return name[0] != '-' && name[len(name)-1] != '-'
}
