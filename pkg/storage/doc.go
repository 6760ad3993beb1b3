// Package storage defines the persistence contracts of tenantguard.
//
// # Overview
//
// The engine reads live relationship data through scope.Directory and
// scope.Locator and reads role assignments through AssignmentReader. The
// write side (AssignmentWriter, RelationshipWriter) exists so the binary,
// tests and the invitation workflow can maintain that data; each
// relationship write raises a scope.ChangeEvent through a scope.Notifier so
// cached scopes are dropped.
//
// # Backends
//
// memory.Store keeps everything in maps guarded by a mutex. It is used in
// tests and by the binary when TENANTGUARD_STORAGE_DRIVER=memory.
//
// sqlstore.Store speaks database/sql against PostgreSQL (lib/pq) or
// SQLite (go-sqlite3). Queries use $N placeholders, which both drivers
// accept.
//
//	store, err := sqlstore.Open(ctx, storage.Config{
//		Driver:  "postgres",
//		DSN:     "postgres://localhost/tenantguard?sslmode=disable",
//		Migrate: true,
//	}, sqlstore.WithNotifier(bus))
//
// # Assignment lifecycle
//
// At most one active assignment exists per (user id, user type). Assign
// returns ErrActiveAssignmentExists when one is present; the SQL backend
// also enforces it with a partial unique index. Revoke flips is_active and
// sets revoked_at so the audit trail can still name the role.
package storage
