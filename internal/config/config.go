package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration. It is built once at startup and
// passed by pointer into every constructor; nothing reads viper after Load.
type Config struct {
	Port               int      `mapstructure:"port"`
	LogLevel           string   `mapstructure:"log_level"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RequestTimeoutSec  int      `mapstructure:"request_timeout_sec"`  // HTTP read/write; 0 = server default
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"` // Graceful shutdown wait

	// OTLP trace export; empty endpoint disables tracing.
	TracingEndpoint     string  `mapstructure:"tracing_endpoint"`
	TracingSamplingRate float64 `mapstructure:"tracing_sampling_rate"`

	// AuthType selects the session provider: "oidc" or "openstack".
	AuthType string `mapstructure:"auth_type"`

	// OIDC settings (auth_type = oidc).
	OIDCIssuerURL    string `mapstructure:"oidc_issuer_url"`
	OIDCClientID     string `mapstructure:"oidc_client_id"`
	OIDCClientSecret string `mapstructure:"oidc_client_secret"`
	OIDCRedirectURL  string `mapstructure:"oidc_redirect_url"`
	OIDCScopes       string `mapstructure:"oidc_scopes"`       // comma-separated
	OIDCGroupsClaim  string `mapstructure:"oidc_groups_claim"` // claim carrying the user's groups

	// Tenancy discovery for OIDC sessions (Kubernetes namespaces).
	KubeconfigPath         string `mapstructure:"kubeconfig_path"` // empty = in-cluster config
	TenancyIDLabel         string `mapstructure:"tenancy_id_label"`
	TenancyIDLegacyLabel   string `mapstructure:"tenancy_id_legacy_label"`
	TenancyNameAnnotation  string `mapstructure:"tenancy_name_annotation"`
	TenancyGroupAnnotation string `mapstructure:"tenancy_group_annotation"`
	TenancyNamespacePrefix string `mapstructure:"tenancy_namespace_prefix"` // stripped when deriving tenancy names

	// OpenStack settings (auth_type = openstack).
	OpenStackAuthURL   string `mapstructure:"openstack_auth_url"`
	OpenStackDomain    string `mapstructure:"openstack_domain"`
	OpenStackInterface string `mapstructure:"openstack_interface"` // public | internal | admin
	// Federated login through Keystone websso; provider empty = protocol-only URL.
	FederatedProvider string `mapstructure:"federated_provider"`
	FederatedProtocol string `mapstructure:"federated_protocol"` // e.g. saml2, openid

	// Job-execution backend (AWX-style) driving the cluster engine.
	AWXURL                       string  `mapstructure:"awx_url"`
	AWXUsername                  string  `mapstructure:"awx_username"`
	AWXPassword                  string  `mapstructure:"awx_password"`
	AWXToken                     string  `mapstructure:"awx_token"` // bearer token; overrides basic auth
	AWXOrganisation              string  `mapstructure:"awx_organisation"`
	AWXTemplateInventory         string  `mapstructure:"awx_template_inventory"` // inventory copied for each new cluster
	CreateTeams                  bool    `mapstructure:"create_teams"`           // reify missing teams on first write
	CreateTeamAllowAllPermission bool    `mapstructure:"create_team_allow_all"`  // new teams get the org-level execute role
	AWXRateLimitPerSec           float64 `mapstructure:"awx_rate_limit_per_sec"` // 0 = no limit
	AWXRateLimitBurst            int     `mapstructure:"awx_rate_limit_burst"`
	AWXTimeoutSec                int     `mapstructure:"awx_timeout_sec"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/azimuth/")
	viper.AddConfigPath("$HOME/.azimuth")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("request_timeout_sec", 30)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("tracing_endpoint", "")
	viper.SetDefault("tracing_sampling_rate", 1.0)
	viper.SetDefault("auth_type", "openstack")
	viper.SetDefault("oidc_scopes", "openid,profile,email,groups")
	viper.SetDefault("oidc_groups_claim", "groups")
	viper.SetDefault("tenancy_id_label", "portal.azimuth-cloud.io/tenant-id")
	viper.SetDefault("tenancy_id_legacy_label", "portal.azimuth-cloud.io/project-id")
	viper.SetDefault("tenancy_name_annotation", "portal.azimuth-cloud.io/tenant-name")
	viper.SetDefault("tenancy_group_annotation", "portal.azimuth-cloud.io/tenant-group")
	viper.SetDefault("tenancy_namespace_prefix", "az-")
	viper.SetDefault("openstack_domain", "default")
	viper.SetDefault("openstack_interface", "public")
	viper.SetDefault("federated_protocol", "saml2")
	viper.SetDefault("awx_organisation", "Default")
	viper.SetDefault("awx_template_inventory", "Default")
	viper.SetDefault("create_teams", true)
	viper.SetDefault("create_team_allow_all", false)
	viper.SetDefault("awx_rate_limit_per_sec", 0)
	viper.SetDefault("awx_rate_limit_burst", 0)
	viper.SetDefault("awx_timeout_sec", 30)

	// Environment variables
	viper.SetEnvPrefix("AZIMUTH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Allow comma-separated origins from a single env var.
	if len(cfg.AllowedOrigins) == 1 && strings.Contains(cfg.AllowedOrigins[0], ",") {
		parts := strings.Split(cfg.AllowedOrigins[0], ",")
		cfg.AllowedOrigins = cfg.AllowedOrigins[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, p)
			}
		}
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	switch c.AuthType {
	case "oidc":
		if c.OIDCIssuerURL == "" || c.OIDCClientID == "" {
			return fmt.Errorf("auth_type oidc requires oidc_issuer_url and oidc_client_id")
		}
	case "openstack":
		if c.OpenStackAuthURL == "" {
			return fmt.Errorf("auth_type openstack requires openstack_auth_url")
		}
	default:
		return fmt.Errorf("unknown auth_type %q", c.AuthType)
	}
	if c.AWXURL == "" {
		return fmt.Errorf("awx_url is required")
	}
	if c.AWXToken == "" && (c.AWXUsername == "" || c.AWXPassword == "") {
		return fmt.Errorf("either awx_token or awx_username/awx_password is required")
	}
	return nil
}

// OIDCScopeList splits the comma-separated scope setting.
func (c *Config) OIDCScopeList() []string {
	parts := strings.Split(c.OIDCScopes, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}
