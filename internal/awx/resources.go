package awx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// FindOrganisation looks up an organisation by exact name.
func (c *Client) FindOrganisation(ctx context.Context, name string) (*Organisation, error) {
	return findByName[Organisation](ctx, c, "/api/v2/organizations/", name, nil)
}

// OrganisationExecuteRole fetches the organisation's execute role id.
func (c *Client) OrganisationExecuteRole(ctx context.Context, orgID int) (*Role, error) {
	var org struct {
		SummaryFields struct {
			ObjectRoles ObjectRoles `json:"object_roles"`
		} `json:"summary_fields"`
	}
	path := fmt.Sprintf("/api/v2/organizations/%d/", orgID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &org); err != nil {
		return nil, err
	}
	role := org.SummaryFields.ObjectRoles.Execute
	return &role, nil
}

// FindTeam looks up a team by name within an organisation.
func (c *Client) FindTeam(ctx context.Context, orgID int, name string) (*Team, error) {
	extra := url.Values{}
	extra.Set("organization", strconv.Itoa(orgID))
	return findByName[Team](ctx, c, "/api/v2/teams/", name, extra)
}

// CreateTeam creates a team in the organisation.
func (c *Client) CreateTeam(ctx context.Context, orgID int, name string) (*Team, error) {
	body := map[string]any{"name": name, "organization": orgID}
	var team Team
	if err := c.do(ctx, http.MethodPost, "/api/v2/teams/", nil, body, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// TeamRoles lists the roles granted to a team.
func (c *Client) TeamRoles(ctx context.Context, teamID int) ([]Role, error) {
	return list[Role](ctx, c, fmt.Sprintf("/api/v2/teams/%d/roles/", teamID), nil)
}

// GrantTeamRole grants a role to a team.
func (c *Client) GrantTeamRole(ctx context.Context, teamID, roleID int) error {
	path := fmt.Sprintf("/api/v2/teams/%d/roles/", teamID)
	return c.do(ctx, http.MethodPost, path, nil, map[string]any{"id": roleID}, nil)
}

// FindCredentialType looks up a credential type by name.
func (c *Client) FindCredentialType(ctx context.Context, name string) (*CredentialType, error) {
	return findByName[CredentialType](ctx, c, "/api/v2/credential_types/", name, nil)
}

// CreateCredential creates a credential owned by a team.
func (c *Client) CreateCredential(ctx context.Context, name string, typeID, teamID int, inputs map[string]any) (*Credential, error) {
	body := map[string]any{
		"name":            name,
		"credential_type": typeID,
		"team":            teamID,
		"inputs":          inputs,
	}
	var cred Credential
	if err := c.do(ctx, http.MethodPost, "/api/v2/credentials/", nil, body, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// ListInventories lists inventories, optionally restricted to names starting
// with a prefix.
func (c *Client) ListInventories(ctx context.Context, namePrefix string) ([]Inventory, error) {
	var query url.Values
	if namePrefix != "" {
		query = url.Values{}
		query.Set("name__startswith", namePrefix)
	}
	return list[Inventory](ctx, c, "/api/v2/inventories/", query)
}

// FindInventory looks up an inventory by exact name.
func (c *Client) FindInventory(ctx context.Context, name string) (*Inventory, error) {
	return findByName[Inventory](ctx, c, "/api/v2/inventories/", name, nil)
}

// GetInventory fetches one inventory by id.
func (c *Client) GetInventory(ctx context.Context, id int) (*Inventory, error) {
	var inv Inventory
	path := fmt.Sprintf("/api/v2/inventories/%d/", id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// CopyInventory copies an inventory under a new name.
func (c *Client) CopyInventory(ctx context.Context, sourceID int, newName string) (*Inventory, error) {
	path := fmt.Sprintf("/api/v2/inventories/%d/copy/", sourceID)
	var inv Inventory
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]any{"name": newName}, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// DeleteInventory removes an inventory. Deletion is asynchronous in the
// backend; the object may be observable for a while after this returns.
func (c *Client) DeleteInventory(ctx context.Context, id int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v2/inventories/%d/", id), nil, nil, nil)
}

// InventoryVariables fetches the inventory's variable document as a map.
func (c *Client) InventoryVariables(ctx context.Context, id int) (map[string]any, error) {
	var raw map[string]any
	path := fmt.Sprintf("/api/v2/inventories/%d/variable_data/", id)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SetInventoryVariables replaces the inventory's variable document.
func (c *Client) SetInventoryVariables(ctx context.Context, id int, vars map[string]any) error {
	path := fmt.Sprintf("/api/v2/inventories/%d/variable_data/", id)
	return c.do(ctx, http.MethodPut, path, nil, vars, nil)
}

// ListJobTemplates lists every job template visible to the client.
func (c *Client) ListJobTemplates(ctx context.Context) ([]JobTemplate, error) {
	return list[JobTemplate](ctx, c, "/api/v2/job_templates/", nil)
}

// FindJobTemplate looks up a job template by exact name.
func (c *Client) FindJobTemplate(ctx context.Context, name string) (*JobTemplate, error) {
	return findByName[JobTemplate](ctx, c, "/api/v2/job_templates/", name, nil)
}

// LaunchJob launches a template against an inventory with the given extra
// vars and credentials. This is the mutation of record for every cluster
// lifecycle operation.
func (c *Client) LaunchJob(ctx context.Context, templateID, inventoryID int, extraVars map[string]any, credentialIDs []int) (*Job, error) {
	vars, err := json.Marshal(extraVars)
	if err != nil {
		return nil, fmt.Errorf("encoding extra vars: %w", err)
	}
	body := map[string]any{
		"inventory":  inventoryID,
		"extra_vars": string(vars),
	}
	if len(credentialIDs) > 0 {
		body["credentials"] = credentialIDs
	}
	path := fmt.Sprintf("/api/v2/job_templates/%d/launch/", templateID)
	var job Job
	if err := c.do(ctx, http.MethodPost, path, nil, body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// InventoryJobs lists the jobs run against an inventory, most recent first.
func (c *Client) InventoryJobs(ctx context.Context, inventoryID int) ([]Job, error) {
	query := url.Values{}
	query.Set("inventory", strconv.Itoa(inventoryID))
	query.Set("order_by", "-started")
	return list[Job](ctx, c, "/api/v2/jobs/", query)
}

// JobEvents lists a job's events of one type, most recent first.
func (c *Client) JobEvents(ctx context.Context, jobID int, event string) ([]JobEvent, error) {
	query := url.Values{}
	query.Set("event", event)
	query.Set("order_by", "-created")
	return list[JobEvent](ctx, c, fmt.Sprintf("/api/v2/jobs/%d/job_events/", jobID), query)
}
