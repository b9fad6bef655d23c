// Package storage selects and assembles the persistence collaborator.
//
// The services in plans, rbac, approvals and audit each define the store
// interface they need. Backend composes all of them so cmd/sitework can
// pick one implementation at startup and hand it to every service:
//
//   - Live wraps the Postgres stores over a single *sql.DB.
//   - Blocked is used in demo mode. Every call fails with ErrDemoBlocked,
//     which makes permission checks deny and keeps writes off any database.
//
// Connect and NewRedisClient open the underlying connections, and
// RunMigrations brings the schema up to date.
package storage
