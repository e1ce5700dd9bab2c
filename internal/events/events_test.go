package events

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-orm/internal/infrastructure/config"
	"github.com/nerrad567/gray-orm/internal/infrastructure/database"
	"github.com/nerrad567/gray-orm/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-orm/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-orm/internal/persistence"
	"github.com/nerrad567/gray-orm/internal/staff"
	_ "github.com/nerrad567/gray-orm/migrations"
)

type published struct {
	topic string
	v     any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) PublishJSON(topic string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic, v})
	return nil
}

type fakeWriter struct {
	flushes []influxdb.FlushMetric
}

func (f *fakeWriter) WriteFlushMetric(m influxdb.FlushMetric) { f.flushes = append(f.flushes, m) }

type fakeHub struct {
	mu       sync.Mutex
	channels []string
	payloads []any
}

func (f *fakeHub) Broadcast(channel string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, payload)
}

func sampleEvent() persistence.FlushEvent {
	return persistence.FlushEvent{
		Unit:      "staff",
		SessionID: "sess-1",
		Revision:  "rev-1",
		Actor:     "usr-ann",
		Duration:  1500 * time.Microsecond,
		At:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Changes: []persistence.Change{
			{Entity: "company", ID: 1, Op: persistence.OpInsert, Values: map[string]any{"cif": "B12345678"}},
			{Entity: "employee", ID: 2, Op: persistence.OpInsert},
			{Entity: "employee", ID: 3, Op: persistence.OpUpdate},
			{Entity: "car", ID: 4, Op: persistence.OpDelete},
		},
	}
}

func TestSummarise(t *testing.T) {
	s := Summarise(sampleEvent())
	want := FlushSummary{
		Unit: "staff", SessionID: "sess-1", Revision: "rev-1",
		Inserts: 2, Updates: 1, Deletes: 1, DurationMS: 1.5,
	}
	if s != want {
		t.Errorf("Summarise() = %+v, want %+v", s, want)
	}
}

func TestPublisher_Topics(t *testing.T) {
	client := &fakePublisher{}
	p := NewPublisher(client, mqtt.Topics{Prefix: "test"}, nil)

	p.OnFlush(context.Background(), sampleEvent())

	wantTopics := []string{
		"test/entity/company/insert",
		"test/entity/employee/insert",
		"test/entity/employee/update",
		"test/entity/car/delete",
		"test/flush/staff",
	}
	if len(client.sent) != len(wantTopics) {
		t.Fatalf("published %d messages, want %d", len(client.sent), len(wantTopics))
	}
	for i, want := range wantTopics {
		if client.sent[i].topic != want {
			t.Errorf("message %d topic = %q, want %q", i, client.sent[i].topic, want)
		}
	}

	first, ok := client.sent[0].v.(ChangeMessage)
	if !ok {
		t.Fatalf("payload type = %T, want ChangeMessage", client.sent[0].v)
	}
	if first.Actor != "usr-ann" || first.Revision != "rev-1" || first.Values["cif"] != "B12345678" {
		t.Errorf("first message = %+v", first)
	}
}

func TestPublisher_OfflineIsDropped(t *testing.T) {
	client := &fakePublisher{err: mqtt.ErrNotConnected}
	p := NewPublisher(client, mqtt.Topics{}, nil)

	// Must not panic or block.
	p.OnFlush(context.Background(), sampleEvent())

	client.err = errors.New("broker refused")
	p.OnFlush(context.Background(), sampleEvent())

	if len(client.sent) != 0 {
		t.Errorf("sent = %d, want 0", len(client.sent))
	}
}

func TestFlushRecorder(t *testing.T) {
	w := &fakeWriter{}
	NewFlushRecorder(w).OnFlush(context.Background(), sampleEvent())

	if len(w.flushes) != 1 {
		t.Fatalf("flush points = %d, want 1", len(w.flushes))
	}
	m := w.flushes[0]
	if m.Unit != "staff" || m.Inserts != 2 || m.Updates != 1 || m.Deletes != 1 || m.Duration != 1500*time.Microsecond {
		t.Errorf("flush metric = %+v", m)
	}
	want := []influxdb.ChangeCount{
		{Entity: "company", Op: "insert", Count: 1},
		{Entity: "employee", Op: "insert", Count: 1},
		{Entity: "employee", Op: "update", Count: 1},
		{Entity: "car", Op: "delete", Count: 1},
	}
	if len(m.Changes) != len(want) {
		t.Fatalf("change counts = %v, want %v", m.Changes, want)
	}
	for i := range want {
		if m.Changes[i] != want[i] {
			t.Errorf("Changes[%d] = %+v, want %+v", i, m.Changes[i], want[i])
		}
	}
}

func TestCountChanges_GroupsRepeats(t *testing.T) {
	got := countChanges([]persistence.Change{
		{Entity: "employee", ID: 1, Op: persistence.OpInsert},
		{Entity: "employee", ID: 2, Op: persistence.OpInsert},
		{Entity: "employee", ID: 3, Op: persistence.OpDelete},
		{Entity: "employee", ID: 4, Op: persistence.OpInsert},
	})
	want := []influxdb.ChangeCount{
		{Entity: "employee", Op: "insert", Count: 3},
		{Entity: "employee", Op: "delete", Count: 1},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("countChanges() = %+v, want %+v", got, want)
	}
	if countChanges(nil) != nil {
		t.Error("countChanges(nil) should be nil")
	}
}

func TestRelay_CommittedFlushOnly(t *testing.T) {
	db, err := database.Open(database.Config{
		Path:         filepath.Join(t.TempDir(), "events.db"),
		BusyTimeout:  1,
		MaxOpenConns: 2,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	f := persistence.NewFactory(db, "staff", config.UnitConfig{
		Database:       config.DatabaseConfig{MaxOpenConns: 2},
		NamingStrategy: config.NamingSnakeCase,
	}, nil)
	if err := staff.Register(f); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	hub := &fakeHub{}
	f.AddListener(NewRelay(hub))

	companies, err := staff.NewCompanyRepository(f)
	if err != nil {
		t.Fatalf("NewCompanyRepository() error = %v", err)
	}
	ctx := context.Background()
	if err := companies.Create(ctx, &staff.Company{CIF: "B12345678", LegalName: "Acme"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Duplicate CIF rolls back; nothing is relayed.
	if err := companies.Create(ctx, &staff.Company{CIF: "B12345678", LegalName: "Copy"}); err == nil {
		t.Fatal("Create(duplicate) error = nil")
	}

	if len(hub.channels) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(hub.channels))
	}
	if hub.channels[0] != ChannelEntityChanged || hub.channels[1] != ChannelFlushCommitted {
		t.Errorf("channels = %v, want change then flush summary", hub.channels)
	}
	if sum, ok := hub.payloads[1].(FlushSummary); !ok || sum.Inserts != 1 {
		t.Errorf("summary = %+v", hub.payloads[1])
	}
	msg, ok := hub.payloads[0].(ChangeMessage)
	if !ok || msg.Entity != staff.EntityCompany || msg.Op != persistence.OpInsert || msg.ID == 0 {
		t.Errorf("payload = %+v", hub.payloads[0])
	}
}
