// Package stores provides the persistence layer of the work order service.
// It includes a SQLite store with WAL mode, embedded migrations, work order
// documents with indexed scheduling columns, and the append-only progress
// notification log.
package stores
