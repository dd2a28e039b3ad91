// Package store persists tasks for the development queue server.
//
// # Task lifecycle
//
//	waiting --claim--> running --complete--> finished | failed
//	                      \--sweep--> expired
//
// CompleteTask succeeds once per task; later calls return ErrAlreadyCompleted
// so duplicate result submissions never overwrite the first result.
// AppendEvent is idempotent on (task, seq).
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite, WAL mode, schema created on open,
//     event rows keyed by ULID
//   - MemoryStore: maps guarded by a mutex, for tests and ":memory:"
//
// Open picks between them by path.
package store
