package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg == nil {
		t.Fatal("Config should not be nil")
	}

	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.LogLevel)
	}
	if cfg.AuthType != "openstack" {
		t.Errorf("Expected default auth type 'openstack', got %s", cfg.AuthType)
	}
	if cfg.AWXTemplateInventory != "Default" {
		t.Errorf("Expected default template inventory 'Default', got %s", cfg.AWXTemplateInventory)
	}
	if !cfg.CreateTeams {
		t.Error("Expected create_teams to default to true")
	}
	if cfg.CreateTeamAllowAllPermission {
		t.Error("Expected create_team_allow_all to default to false")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Setenv("AZIMUTH_PORT", "9000")
	os.Setenv("AZIMUTH_AUTH_TYPE", "oidc")
	os.Setenv("AZIMUTH_OIDC_ISSUER_URL", "https://idp.example.com/realms/portal")
	defer func() {
		os.Unsetenv("AZIMUTH_PORT")
		os.Unsetenv("AZIMUTH_AUTH_TYPE")
		os.Unsetenv("AZIMUTH_OIDC_ISSUER_URL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000 from env, got %d", cfg.Port)
	}
	if cfg.AuthType != "oidc" {
		t.Errorf("Expected auth type 'oidc' from env, got %s", cfg.AuthType)
	}
	if cfg.OIDCIssuerURL != "https://idp.example.com/realms/portal" {
		t.Errorf("Unexpected issuer URL: %s", cfg.OIDCIssuerURL)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{AuthType: "oidc"}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for oidc auth without issuer/client")
	}

	cfg = &Config{
		AuthType:      "openstack",
		OpenStackAuthURL: "https://keystone.example.com/v3",
		AWXURL:        "https://awx.example.com",
		AWXToken:      "tok",
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	cfg.AWXToken = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when no AWX credentials are configured")
	}

	cfg = &Config{AuthType: "ldap"}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown auth type")
	}
}

func TestOIDCScopeList(t *testing.T) {
	cfg := &Config{OIDCScopes: "openid, profile ,email,"}
	scopes := cfg.OIDCScopeList()
	if len(scopes) != 3 {
		t.Fatalf("Expected 3 scopes, got %d: %v", len(scopes), scopes)
	}
	if scopes[1] != "profile" {
		t.Errorf("Expected trimmed scope 'profile', got %q", scopes[1])
	}
}
