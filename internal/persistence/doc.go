// Package persistence maps Go entities to SQLite rows through sessions.
//
// A Factory holds one persistence unit: its database, the registered entity
// schemas, named queries and flush hooks. A Session opened from it is a unit
// of work bound to one pooled connection. It keeps an identity map, so each
// row is represented by at most one instance, and snapshots every tracked
// entity so Flush can work out what changed.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                              Factory                                │
//	│  schemas • joins • named queries • interceptors • listeners • audit │
//	└───────────────┬─────────────────────────────────────────────────────┘
//	                │ Open(ctx)
//	                ▼
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                              Session                                │
//	│                                                                     │
//	│  Persist/Remove/Merge ──▶ identity map ◀── Load/Select/NativeList   │
//	│                               │                                     │
//	│                        Flush  ▼                                     │
//	│   hooks ─▶ inserts ─▶ updates (dirty only) ─▶ links ─▶ deletes      │
//	│                    one transaction on the session's *sql.Conn       │
//	└───────────────┬─────────────────────────────────────────────────────┘
//	                │ after commit
//	                ▼
//	        Listener.OnFlush(FlushEvent)
//
// # Entity States
//
//   - Transient: unknown to the session
//   - New: registered with Persist, inserted by the next flush
//   - Managed: loaded or flushed; changes are detected by snapshot comparison
//   - Removed: deleted by the next flush
//   - Detached: has a key but is not tracked (evicted, deleted, or session closed)
//
// # Usage
//
//	f := persistence.NewFactory(db, "staff", unitCfg, log)
//	if err := f.Register(staff.Schemas()...); err != nil {
//	    return err
//	}
//
//	err := f.Do(ctx, func(s *persistence.Session) error {
//	    ann, found, err := persistence.Find[*staff.Employee](ctx, s, 1)
//	    if err != nil || !found {
//	        return err
//	    }
//	    ann.Age = 31
//	    return s.Flush(ctx) // one UPDATE of the age column
//	})
//
// # Failure Handling
//
// A flush is all-or-nothing. If the store rejects a statement the
// transaction rolls back, keys assigned during the flush are reset, and
// the session refuses further work with ErrSessionFailed. Close it and
// start over in a new session.
//
// # Thread Safety
//
// Factory is safe for concurrent use. A Session serialises its own calls
// but is meant for one goroutine; lifecycle hooks, interceptors and
// listeners must not call back into the session that invoked them.
package persistence
