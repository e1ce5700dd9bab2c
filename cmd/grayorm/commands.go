package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/nerrad567/gray-orm/internal/auth"
	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
)

// runMigrate applies, rolls back or lists the SQL migrations of the
// default persistence unit.
func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	unit, err := lookupUnit(cfg, cfg.Persistence.DefaultUnit)
	if err != nil {
		return err
	}

	db, err := openUnitDB(unit)
	if err != nil {
		return err
	}
	defer db.Close()

	switch action {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		fmt.Fprintln(stdout, "migrations applied")
	case "down":
		if err := db.MigrateDown(ctx); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		fmt.Fprintln(stdout, "last migration rolled back")
	case "status":
		status, err := db.SchemaStatus(ctx)
		if err != nil {
			return fmt.Errorf("reading migration status: %w", err)
		}
		for _, m := range status.Applied {
			fmt.Fprintf(stdout, "applied  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		for _, m := range status.Pending {
			fmt.Fprintf(stdout, "pending  %s  %s\n", m.Version, m.Name)
		}
		for _, m := range status.Unknown {
			fmt.Fprintf(stdout, "unknown  %s  applied %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
		}
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or status)", action)
	}
	return nil
}

// runToken prints a signed API token for the given subject and role.
func runToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "", "token subject, recorded as the audit actor")
	role := fs.String("role", string(auth.RoleViewer), "viewer, editor or admin")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing token flags: %w", err)
	}
	if *subject == "" {
		return fmt.Errorf("token: -subject is required")
	}
	if !auth.IsValidRole(auth.Role(*role)) {
		return fmt.Errorf("token: unknown role %q", *role)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return fmt.Errorf("token: security.jwt.secret is not configured")
	}

	token, err := auth.IssueToken(cfg.Security.JWT, *subject, auth.Role(*role))
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(stdout, token)
	return nil
}
