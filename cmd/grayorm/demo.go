package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
	"github.com/nerrad567/gray-orm/internal/infrastructure/logging"
	"github.com/nerrad567/gray-orm/internal/persistence"
	"github.com/nerrad567/gray-orm/internal/staff"
)

// runDemo walks a session through the entity lifecycle against a scratch
// database and logs what each step observed.
func runDemo(ctx context.Context, log *logging.Logger) error {
	dir, err := os.MkdirTemp("", "grayorm-demo-")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.Default()
	unit, err := lookupUnit(cfg, cfg.Persistence.DefaultUnit)
	if err != nil {
		return err
	}
	unit.Database.Path = filepath.Join(dir, "demo.db")
	unit.AutoSchema = config.AutoSchemaCreate

	db, err := openUnitDB(unit)
	if err != nil {
		return err
	}
	defer db.Close()

	factory, auditRepo, err := buildFactory(ctx, db, cfg.Persistence.DefaultUnit, unit, log)
	if err != nil {
		return err
	}

	ctx = persistence.WithActor(ctx, "demo")
	var annID, acmeID int64

	// Cascade: the company and address reach the store through the employee.
	err = factory.Do(ctx, func(s *persistence.Session) error {
		acme := &staff.Company{CIF: "B12345678", LegalName: "Acme Ltd", Capital: 250000, Year: 1998}
		ann := &staff.Employee{
			FirstName: "Ann", LastName: "Lee", Email: "ann@example.com", Age: 34, Salary: 52000,
			Company:   persistence.RefOf(acme),
			Direction: persistence.RefOf(&staff.Direction{Street: "1 High St", City: "Leeds", Country: "UK"}),
		}
		if err := s.Persist(ctx, ann); err != nil {
			return err
		}
		log.Info("persist", "employee", s.State(ann).String(), "company", s.State(acme).String())
		if err := s.Flush(ctx); err != nil {
			return err
		}
		annID, acmeID = ann.ID(), acme.ID()
		log.Info("flushed", "employee_id", annID, "company_id", acmeID, "direction_id", ann.Direction.ID(), "version", ann.Version())

		// Identity: a second lookup of the same key returns the same instance.
		found, ok, err := persistence.Find[*staff.Employee](ctx, s, annID)
		if err != nil {
			return err
		}
		log.Info("find", "found", ok, "same_instance", found == ann)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cascade persist: %w", err)
	}

	// Dirty checking: a managed change is written, an evicted one is not.
	err = factory.Do(ctx, func(s *persistence.Session) error {
		ann, _, err := persistence.Find[*staff.Employee](ctx, s, annID)
		if err != nil {
			return err
		}
		ann.Salary = 54000
		if err := s.Flush(ctx); err != nil {
			return err
		}
		log.Info("dirty flush", "updates", s.Stats().Updates, "version", ann.Version())

		s.Evict(ann)
		ann.Salary = 99000
		if err := s.Flush(ctx); err != nil {
			return err
		}
		log.Info("evicted flush", "state", s.State(ann).String(), "updates", s.Stats().Updates)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dirty checking: %w", err)
	}

	// Merge: a detached copy is applied to the tracked instance.
	err = factory.Do(ctx, func(s *persistence.Session) error {
		detached := &staff.Employee{}
		if err := factory.Do(ctx, func(other *persistence.Session) error {
			loaded, _, err := persistence.Find[*staff.Employee](ctx, other, annID)
			if err != nil {
				return err
			}
			*detached = *loaded
			return nil
		}); err != nil {
			return err
		}
		detached.Married = true

		merged, err := s.Merge(ctx, detached)
		if err != nil {
			return err
		}
		if err := s.Flush(ctx); err != nil {
			return err
		}
		log.Info("merge",
			"argument_tracked", s.Contains(detached),
			"merged_state", s.State(merged).String(),
			"married", merged.(*staff.Employee).Married,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	// Refresh discards unflushed local changes.
	err = factory.Do(ctx, func(s *persistence.Session) error {
		ann, _, err := persistence.Find[*staff.Employee](ctx, s, annID)
		if err != nil {
			return err
		}
		ann.LastName = "Changed"
		if err := s.Refresh(ctx, ann); err != nil {
			return err
		}
		log.Info("refresh", "last_name", ann.LastName)
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	// Reference reads nothing until loaded; remove then untracks on flush.
	err = factory.Do(ctx, func(s *persistence.Session) error {
		ref := persistence.Reference[*staff.Company](s, acmeID)
		log.Info("reference", "id", ref.ID(), "loaded", ref.IsLoaded(), "loads", s.Stats().Loads)
		company, err := ref.Load(ctx, s)
		if err != nil {
			return err
		}
		log.Info("reference loaded", "legal_name", company.LegalName, "loads", s.Stats().Loads)

		ann, _, err := persistence.Find[*staff.Employee](ctx, s, annID)
		if err != nil {
			return err
		}
		if err := s.Remove(ctx, ann); err != nil {
			return err
		}
		log.Info("remove", "state", s.State(ann).String(), "contains", s.Contains(ann))
		if err := s.Flush(ctx); err != nil {
			return err
		}
		_, still, err := persistence.Find[*staff.Employee](ctx, s, annID)
		if err != nil {
			return err
		}
		log.Info("removed", "found", still, "stats", s.Stats())
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	history, err := auditRepo.History(ctx, staff.EntityEmployee, annID)
	if err != nil {
		return fmt.Errorf("reading audit trail: %w", err)
	}
	for _, entry := range history {
		log.Info("revision", "rev", entry.Revision, "action", entry.Action, "user", entry.UserID)
	}
	return nil
}

// demoLogger returns the text logger used by the demo subcommand.
func demoLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"}, version)
}
