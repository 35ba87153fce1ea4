// Package db provides the embedded catalog mirror and auth blob schema.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string
