// Package sqldocs exposes the document table DDL for each SQL backend.
package sqldocs

import _ "embed"

// SQLite contains the SQLite document table DDL.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the Postgres document table DDL.
//
//go:embed postgres.sql
var Postgres string
