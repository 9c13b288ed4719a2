package sqlstore

import _ "embed"

//go:embed db/schema_postgres.sql
var postgresSchemaSQL string

//go:embed db/schema_sqlite.sql
var sqliteSchemaSQL string

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0
