package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by Gray ORM.
const (
	MeasurementFlush  = "orm_flush"
	MeasurementChange = "orm_change"
)

// FlushMetric summarises one committed flush of a session.
type FlushMetric struct {
	Unit      string
	SessionID string
	Inserts   int
	Updates   int
	Deletes   int
	Duration  time.Duration
	At        time.Time

	// Changes counts the written rows per entity type and operation.
	Changes []ChangeCount
}

// ChangeCount is the number of rows of one entity type a flush wrote with
// one operation.
type ChangeCount struct {
	Entity string
	Op     string
	Count  int
}

// Points converts the metric into one orm_flush point followed by one
// orm_change point per ChangeCount, all stamped with At (or now when zero).
func (m FlushMetric) Points() []*write.Point {
	at := m.At
	if at.IsZero() {
		at = time.Now()
	}

	points := make([]*write.Point, 0, len(m.Changes)+1)
	points = append(points, write.NewPoint(
		MeasurementFlush,
		map[string]string{"unit": m.Unit},
		map[string]any{
			"inserts":     m.Inserts,
			"updates":     m.Updates,
			"deletes":     m.Deletes,
			"duration_ms": float64(m.Duration.Microseconds()) / 1000,
			"session_id":  m.SessionID,
		},
		at,
	))
	for _, c := range m.Changes {
		if c.Count == 0 {
			continue
		}
		points = append(points, write.NewPoint(
			MeasurementChange,
			map[string]string{"unit": m.Unit, "entity": c.Entity, "op": c.Op},
			map[string]any{"count": c.Count},
			at,
		))
	}
	return points
}
