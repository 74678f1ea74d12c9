// Package db embeds the SQL shipped with the service binary.
package db

import _ "embed"

// Schema holds the DDL for the catalog, discount, coupon, redemption, and
// order tables. Applied idempotently at startup.
//
//go:embed migrations/001_schema.sql
var Schema string
