package awx

import "time"

// Organisation groups teams, templates and inventories.
type Organisation struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Team scopes permissions to a tenancy.
type Team struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Organisation int    `json:"organization"`
}

// Role is a grantable permission object. AWX hangs roles off the objects
// they apply to (summary_fields.object_roles); grants are made by POSTing a
// role id onto a team's roles collection.
type Role struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// SummaryFields identifies the object the role applies to when the role
	// is listed from a team's grant collection.
	SummaryFields struct {
		ResourceType string `json:"resource_type"`
		ResourceName string `json:"resource_name"`
		ResourceID   int    `json:"resource_id"`
	} `json:"summary_fields"`
}

// ObjectRoles is the summary_fields.object_roles fragment.
type ObjectRoles struct {
	Execute Role `json:"execute_role"`
	Admin   Role `json:"admin_role"`
	Read    Role `json:"read_role"`
}

// CredentialType describes the shape of credentials the backend accepts.
type CredentialType struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Credential holds secrets injected into job runs.
type Credential struct {
	ID             int            `json:"id"`
	Name           string         `json:"name"`
	CredentialType int            `json:"credential_type"`
	Inputs         map[string]any `json:"inputs,omitempty"`
}

// Inventory is the backing object for one cluster. Variables is a JSON (or
// YAML) document string, per the AWX API.
type Inventory struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Organisation int    `json:"organization"`
	Variables    string `json:"variables"`
	Created      time.Time `json:"created"`
}

// JobTemplate is the backing object for one cluster type. The description
// field carries the cluster-type metadata document reference.
type JobTemplate struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	SummaryFields struct {
		ObjectRoles ObjectRoles `json:"object_roles"`
	} `json:"summary_fields"`
}

// Job statuses reported by the backend.
const (
	JobStatusPending    = "pending"
	JobStatusWaiting    = "waiting"
	JobStatusRunning    = "running"
	JobStatusSuccessful = "successful"
	JobStatusFailed     = "failed"
	JobStatusError      = "error"
	JobStatusCanceled   = "canceled"
)

// Job is one run of a job template against an inventory.
type Job struct {
	ID        int        `json:"id"`
	Status    string     `json:"status"`
	Inventory int        `json:"inventory"`
	Created   time.Time  `json:"created"`
	Started   *time.Time `json:"started"`
	Finished  *time.Time `json:"finished"`
	// ExtraVars is a JSON document string, per the AWX API.
	ExtraVars string `json:"extra_vars"`
}

// Job event types consulted when deriving cluster state.
const (
	JobEventTaskStart    = "playbook_on_task_start"
	JobEventRunnerFailed = "runner_on_failed"
)

// JobEvent is one ansible event emitted during a job run.
type JobEvent struct {
	ID        int            `json:"id"`
	Event     string         `json:"event"`
	Task      string         `json:"task"`
	EventData map[string]any `json:"event_data"`
	Created   time.Time      `json:"created"`
}
