package models

import "time"

// ClusterStatus is derived from job history, never stored.
type ClusterStatus string

const (
	ClusterStatusReady       ClusterStatus = "READY"
	ClusterStatusConfiguring ClusterStatus = "CONFIGURING"
	ClusterStatusDeleting    ClusterStatus = "DELETING"
	ClusterStatusError       ClusterStatus = "ERROR"
)

// ClusterParameter describes one configurable input of a cluster type.
type ClusterParameter struct {
	Name      string `json:"name"`
	Label     string `json:"label,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Required  bool   `json:"required,omitempty"`
	Default   any    `json:"default,omitempty"`
	Immutable bool   `json:"immutable,omitempty"`
	// Options carries kind-specific constraints (min, max, choices, ...).
	Options map[string]any `json:"options,omitempty"`
}

// ClusterType is a provisionable cluster flavour, backed by a job template.
type ClusterType struct {
	Name        string             `json:"name"`
	Label       string             `json:"label,omitempty"`
	Description string             `json:"description,omitempty"`
	LogoURL     string             `json:"logo_url,omitempty"`
	Parameters  []ClusterParameter `json:"parameters,omitempty"`
	// UsageTemplate is free-form usage text shown once a cluster is ready.
	UsageTemplate string `json:"usage_template,omitempty"`
}

// Cluster is a provisioned instance of a cluster type. ID is the identifier
// of the backing inventory in the job backend.
type Cluster struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         string         `json:"cluster_type"`
	Status       ClusterStatus  `json:"status"`
	CurrentTask  string         `json:"current_task,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Params       map[string]any `json:"parameter_values,omitempty"`
	CreatedAt    time.Time      `json:"created"`
	UpdatedAt    *time.Time     `json:"updated,omitempty"`
	PatchedAt    *time.Time     `json:"patched,omitempty"`
}
