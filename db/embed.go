// Package db embeds the database schema applied at startup.
package db

import _ "embed"

// Schema contains the DDL for the snapshot, ledger, gift card, transaction,
// and membership tables. Statements are idempotent (IF NOT EXISTS) so the
// schema can be applied on every boot.
//
//go:embed migrations/001_schema.sql
var Schema string
