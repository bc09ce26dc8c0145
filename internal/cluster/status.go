package cluster

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/azimuth-cloud/azimuth-portal/internal/apperrors"
	"github.com/azimuth-cloud/azimuth-portal/internal/awx"
	"github.com/azimuth-cloud/azimuth-portal/internal/models"
)

// Inventory variable keys stamped at create time. Everything else in the
// variable document is treated as user-supplied parameters.
const (
	varClusterName   = "cluster_name"
	varClusterType   = "cluster_type"
	varClusterSSHKey = "cluster_user_ssh_public_key"
)

// Extra-var keys controlling job semantics.
const (
	varClusterState    = "cluster_state"
	varUpgradePackages = "cluster_upgrade_system_packages"

	clusterStatePresent = "present"
	clusterStateAbsent  = "absent"
)

const canceledMessage = "Cluster configuration was canceled"
const genericFailureMessage = "Error during cluster configuration"

// jobIntent is what a job was asked to do, recovered from its extra vars.
type jobIntent struct {
	state   string
	upgrade bool
}

func intentOf(job *awx.Job) jobIntent {
	intent := jobIntent{state: clusterStatePresent}
	if job.ExtraVars == "" {
		return intent
	}
	var vars struct {
		State   string `json:"cluster_state"`
		Upgrade bool   `json:"cluster_upgrade_system_packages"`
	}
	if err := json.Unmarshal([]byte(job.ExtraVars), &vars); err != nil {
		return intent
	}
	if vars.State != "" {
		intent.state = vars.State
	}
	intent.upgrade = vars.Upgrade
	return intent
}

// clusterFromInventory derives the cluster DTO for an inventory from its job
// history. A latest job that successfully reached cluster_state=absent means
// the cluster no longer exists and a NotFound error is returned.
func (m *Manager) clusterFromInventory(ctx context.Context, inventory *awx.Inventory) (*models.Cluster, error) {
	variables, err := m.engine.client.InventoryVariables(ctx, inventory.ID)
	if err != nil {
		return nil, err
	}

	cluster := &models.Cluster{
		ID:        strconv.Itoa(inventory.ID),
		Name:      clusterName(inventory, variables, m.tenancy.Name),
		CreatedAt: inventory.Created,
		Params:    userParams(variables),
	}
	if typeName, ok := variables[varClusterType].(string); ok {
		cluster.Type = typeName
	}

	jobs, err := m.engine.client.InventoryJobs(ctx, inventory.ID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		// An inventory with no jobs should not exist; surface it rather
		// than hiding it.
		cluster.Status = models.ClusterStatusError
		cluster.ErrorMessage = "No configuration jobs found for cluster"
		return cluster, nil
	}

	latest := &jobs[0]
	intent := intentOf(latest)

	switch latest.Status {
	case awx.JobStatusSuccessful:
		if intent.state == clusterStateAbsent {
			return nil, apperrors.NotFound("cluster %q has been deleted", cluster.Name)
		}
		cluster.Status = models.ClusterStatusReady
		cluster.UpdatedAt = latest.Finished
		if intent.upgrade {
			cluster.PatchedAt = latest.Finished
		}
	case awx.JobStatusCanceled:
		cluster.Status = models.ClusterStatusError
		cluster.ErrorMessage = canceledMessage
	case awx.JobStatusFailed, awx.JobStatusError:
		cluster.Status = models.ClusterStatusError
		cluster.ErrorMessage = m.failureMessage(ctx, latest)
	default:
		if intent.state == clusterStateAbsent {
			cluster.Status = models.ClusterStatusDeleting
		} else {
			cluster.Status = models.ClusterStatusConfiguring
		}
		cluster.CurrentTask = m.currentTask(ctx, latest)
	}

	m.backfillTimestamps(cluster, jobs[1:])
	return cluster, nil
}

// backfillTimestamps walks older jobs, most recent first, until updated and
// patched times are both known. Only successful configuration jobs count.
func (m *Manager) backfillTimestamps(cluster *models.Cluster, older []awx.Job) {
	for i := range older {
		if cluster.UpdatedAt != nil && cluster.PatchedAt != nil {
			return
		}
		job := &older[i]
		if job.Status != awx.JobStatusSuccessful || job.Finished == nil {
			continue
		}
		intent := intentOf(job)
		if intent.state != clusterStatePresent {
			continue
		}
		if cluster.UpdatedAt == nil {
			cluster.UpdatedAt = job.Finished
		}
		if cluster.PatchedAt == nil && intent.upgrade {
			cluster.PatchedAt = job.Finished
		}
	}
}

// failureMessage digs the most recent failed task out of the job's events.
// Event queries are best-effort; any failure falls back to the generic
// message.
func (m *Manager) failureMessage(ctx context.Context, job *awx.Job) string {
	events, err := m.engine.client.JobEvents(ctx, job.ID, awx.JobEventRunnerFailed)
	if err != nil || len(events) == 0 {
		return genericFailureMessage
	}
	event := events[0]
	if msg := eventMessage(event.EventData); msg != "" {
		return msg
	}
	if event.Task != "" {
		return "Task failed: " + event.Task
	}
	return genericFailureMessage
}

func eventMessage(data map[string]any) string {
	res, ok := data["res"].(map[string]any)
	if !ok {
		return ""
	}
	msg, _ := res["msg"].(string)
	return strings.TrimSpace(msg)
}

// currentTask reports the most recently started playbook task, if any.
func (m *Manager) currentTask(ctx context.Context, job *awx.Job) string {
	events, err := m.engine.client.JobEvents(ctx, job.ID, awx.JobEventTaskStart)
	if err != nil || len(events) == 0 {
		return ""
	}
	return events[0].Task
}

// clusterName prefers the stamped variable, falling back to stripping the
// tenancy prefix off the inventory name.
func clusterName(inventory *awx.Inventory, variables map[string]any, tenancyName string) string {
	if name, ok := variables[varClusterName].(string); ok && name != "" {
		return name
	}
	return strings.TrimPrefix(inventory.Name, tenancyName+"-")
}

// userParams filters the reserved keys out of the inventory variables.
func userParams(variables map[string]any) map[string]any {
	params := make(map[string]any, len(variables))
	for k, v := range variables {
		switch k {
		case varClusterName, varClusterType, varClusterSSHKey:
			continue
		}
		params[k] = v
	}
	return params
}
