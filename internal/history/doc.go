// Package history records ensemble and merge runs in a SQLite database.
//
// Schema changes are embedded SQL migrations applied in file name order on
// Open; each applied version is recorded in schema_migrations.
package history
