package persistence

import (
	"context"
	"errors"
	"testing"
)

func newPersonRepo(t *testing.T) *Repository[*person] {
	t.Helper()
	repo, err := NewRepository[*person](newTestFactory(t))
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	return repo
}

func TestRepository_CRUD(t *testing.T) {
	repo := newPersonRepo(t)
	ctx := context.Background()

	p := &person{Name: "ann", Email: "ann@example.com", Age: 30}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, found, err := repo.FindByID(ctx, p.ID())
	if err != nil || !found {
		t.Fatalf("FindByID() = %v, %v", found, err)
	}
	got.Age = 31
	updated, err := repo.Update(ctx, got)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Version() != 2 {
		t.Errorf("updated Version() = %d, want 2", updated.Version())
	}

	if _, err := repo.Update(ctx, got); !errors.Is(err, ErrStaleState) {
		t.Errorf("Update() with old version error = %v, want ErrStaleState", err)
	}

	all, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if len(all) != 1 || all[0].Age != 31 {
		t.Errorf("FindAll() = %v", all)
	}

	if !repo.DeleteByID(ctx, p.ID()) {
		t.Error("DeleteByID() = false, want true")
	}
	if repo.DeleteByID(ctx, p.ID()) {
		t.Error("DeleteByID() of missing row = true")
	}
	if _, err := repo.Get(ctx, p.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, p.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestRepository_DeleteByIDRejected(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()
	people, _ := NewRepository[*person](f)
	orgs, _ := NewRepository[*org](f)

	acme := &org{Name: "Acme"}
	if err := people.Create(ctx, &person{Name: "a", Email: "a@example.com", Org: RefOf(acme)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if orgs.DeleteByID(ctx, acme.ID()) {
		t.Error("DeleteByID() of referenced org = true, want false")
	}
	if err := orgs.Delete(ctx, acme.ID()); !errors.Is(err, ErrConstraintViolation) {
		t.Errorf("Delete() error = %v, want ErrConstraintViolation", err)
	}
	if n, _ := orgs.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestRepository_SaveAllAndPages(t *testing.T) {
	repo := newPersonRepo(t)
	ctx := context.Background()

	var batch []*person
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		batch = append(batch, &person{Name: n, Email: n + "@example.com", Age: 20})
	}
	if err := repo.SaveAll(ctx, batch); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}

	n, err := repo.Count(ctx)
	if err != nil || n != 5 {
		t.Fatalf("Count() = %d, %v, want 5", n, err)
	}

	page, err := repo.FindPage(ctx, 2, 2)
	if err != nil {
		t.Fatalf("FindPage() error = %v", err)
	}
	if page.Total != 5 || len(page.Items) != 1 || page.Items[0].Name != "e" {
		t.Errorf("FindPage(2, 2) = total %d, %d items", page.Total, len(page.Items))
	}

	filtered, err := repo.FindPageWhere(ctx, Field("name").In("a", "c"), 0, 10)
	if err != nil {
		t.Fatalf("FindPageWhere() error = %v", err)
	}
	if filtered.Total != 2 || len(filtered.Items) != 2 {
		t.Errorf("FindPageWhere() = total %d, %d items, want 2", filtered.Total, len(filtered.Items))
	}

	if _, err := repo.FindWhere(ctx, From("org")); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("FindWhere(other entity) error = %v, want ErrUnknownEntity", err)
	}
}

func TestNewRepository_Unregistered(t *testing.T) {
	f := newTestFactory(t)
	type stray struct{ tag }
	if _, err := NewRepository[*stray](f); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("NewRepository() error = %v, want ErrUnknownEntity", err)
	}
}
