// Package database provides PostgreSQL connection pool management for the
// chat archive.
package database
