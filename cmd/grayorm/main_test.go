package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/nerrad567/gray-orm/migrations"

	"github.com/nerrad567/gray-orm/internal/auth"
	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
	"github.com/nerrad567/gray-orm/internal/infrastructure/logging"
)

const testSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes a minimal config pointing the default unit at a
// scratch database and sets GRAYORM_CONFIG to it.
func writeConfig(t *testing.T, secret string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
persistence:
  default_unit: staff
  units:
    staff:
      database:
        path: "` + filepath.Join(tmpDir, "staff.db") + `"
        wal_mode: true
      auto_schema: create

logging:
  level: error
  format: text
  output: stdout

security:
  jwt:
    secret: "` + secret + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYORM_CONFIG", configPath)
	return configPath
}

// TestRun_InvalidConfig verifies serve fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYORM_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, nil, &bytes.Buffer{})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_InvalidAutoSchema verifies serve rejects an unknown auto_schema mode.
func TestRun_InvalidAutoSchema(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	configContent := `
persistence:
  units:
    staff:
      database:
        path: "` + filepath.Join(tmpDir, "staff.db") + `"
      auto_schema: drop-create
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYORM_CONFIG", configPath)

	err := run(context.Background(), []string{"serve"}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("run() should fail with an unknown auto_schema mode")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"frobnicate"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("run() error = %v, want unknown command", err)
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"version"}, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "grayorm dev") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRunToken(t *testing.T) {
	writeConfig(t, testSecret)

	var out bytes.Buffer
	if err := runToken([]string{"-subject", "usr-ann", "-role", "editor"}, &out); err != nil {
		t.Fatalf("runToken() error = %v", err)
	}

	claims, err := auth.ParseToken(config.JWTConfig{Secret: testSecret, Issuer: "grayorm"}, strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "usr-ann" || claims.Role != auth.RoleEditor {
		t.Errorf("claims = %+v, want usr-ann/editor", claims)
	}
}

func TestRunToken_Errors(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		args   []string
	}{
		{"missing subject", testSecret, []string{"-role", "admin"}},
		{"unknown role", testSecret, []string{"-subject", "usr-ann", "-role", "root"}},
		{"no secret", "", []string{"-subject", "usr-ann"}},
		{"bad flag", testSecret, []string{"-bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.secret)
			if err := runToken(tt.args, &bytes.Buffer{}); err == nil {
				t.Error("runToken() should fail")
			}
		})
	}
}

func TestRunMigrate(t *testing.T) {
	writeConfig(t, "")
	ctx := context.Background()

	var out bytes.Buffer
	if err := runMigrate(ctx, []string{"status"}, &out); err != nil {
		t.Fatalf("runMigrate(status) error = %v", err)
	}
	if !strings.Contains(out.String(), "pending") {
		t.Errorf("status before up = %q, want pending migrations", out.String())
	}

	out.Reset()
	if err := runMigrate(ctx, nil, &out); err != nil {
		t.Fatalf("runMigrate(up) error = %v", err)
	}

	out.Reset()
	if err := runMigrate(ctx, []string{"status"}, &out); err != nil {
		t.Fatalf("runMigrate(status) error = %v", err)
	}
	if !strings.Contains(out.String(), "applied") || strings.Contains(out.String(), "pending") {
		t.Errorf("status after up = %q, want only applied migrations", out.String())
	}

	if err := runMigrate(ctx, []string{"down"}, &out); err != nil {
		t.Fatalf("runMigrate(down) error = %v", err)
	}
	if err := runMigrate(ctx, []string{"sideways"}, &out); err == nil {
		t.Error("runMigrate(sideways) should fail")
	}
}

// TestRunDemo runs the lifecycle walkthrough end to end.
func TestRunDemo(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := runDemo(ctx, logging.Discard()); err != nil {
		t.Fatalf("runDemo() error = %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYORM_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("GRAYORM_CONFIG", "/etc/grayorm.yaml")
	if got := getConfigPath(); got != "/etc/grayorm.yaml" {
		t.Errorf("getConfigPath() = %q, want /etc/grayorm.yaml", got)
	}
}

func TestLookupUnit(t *testing.T) {
	cfg := config.Default()

	unit, err := lookupUnit(cfg, cfg.Persistence.DefaultUnit)
	if err != nil {
		t.Fatalf("lookupUnit(default) error = %v", err)
	}
	if unit.Database.Path == "" {
		t.Error("default unit has no database path")
	}

	_, err = lookupUnit(cfg, "payroll")
	if err == nil || !strings.Contains(err.Error(), `persistence unit "payroll" is not configured`) {
		t.Errorf("lookupUnit(payroll) error = %v, want not configured", err)
	}
}
