// Package dbtest opens in-memory SQLite databases carrying the service schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE accounts (
		id BIGINT PRIMARY KEY,
		subject TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'parent',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE invoices (
		id BIGINT PRIMARY KEY,
		owner_id BIGINT NULL,
		swimmer_id BIGINT NULL,
		payer_email TEXT NOT NULL,
		status TEXT NOT NULL,
		total_amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		due_date DATETIME NOT NULL,
		paid_at DATETIME NULL,
		transaction_reference TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK ((status = 'paid') = (paid_at IS NOT NULL))
	)`,
	`CREATE TABLE invoice_line_items (
		id BIGINT PRIMARY KEY,
		invoice_id BIGINT NOT NULL,
		swimmer_id BIGINT NULL,
		description TEXT NOT NULL,
		unit_amount BIGINT NOT NULL,
		quantity INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payments (
		id BIGINT PRIMARY KEY,
		invoice_id BIGINT NOT NULL,
		provider TEXT NOT NULL,
		reference TEXT NOT NULL UNIQUE,
		provider_reference TEXT NULL UNIQUE,
		status TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		phone_number TEXT NULL,
		correlation TEXT NOT NULL DEFAULT '{}',
		provider_transaction_id TEXT NULL,
		channel TEXT NULL,
		failure_reason TEXT NULL,
		flag_reason TEXT NULL,
		flagged_at DATETIME NULL,
		paid_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE swimmers (
		id BIGINT PRIMARY KEY,
		owner_id BIGINT NULL,
		submitter_email TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		date_of_birth TEXT NOT NULL,
		gender TEXT NOT NULL DEFAULT '',
		squad TEXT NOT NULL DEFAULT '',
		identity_key TEXT NOT NULL,
		status TEXT NOT NULL,
		registration_complete BOOLEAN NOT NULL DEFAULT FALSE,
		payment_deferred BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (owner_id, identity_key)
	)`,
	`CREATE TABLE registration_consents (
		id BIGINT PRIMARY KEY,
		owner_id BIGINT NULL,
		swimmer_id BIGINT NOT NULL,
		submitter_email TEXT NOT NULL,
		media_consent BOOLEAN NOT NULL,
		code_of_conduct_consent BOOLEAN NOT NULL,
		data_accuracy_confirmed BOOLEAN NOT NULL,
		consent_text TEXT NOT NULL,
		ip_address TEXT NULL,
		user_agent TEXT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE receipts (
		id BIGINT PRIMARY KEY,
		payment_id BIGINT NOT NULL UNIQUE,
		invoice_id BIGINT NOT NULL,
		receipt_number TEXT NOT NULL UNIQUE,
		snapshot TEXT NOT NULL,
		issued_at DATETIME NOT NULL
	)`,
	`CREATE TABLE receipt_events (
		id BIGINT PRIMARY KEY,
		receipt_id BIGINT NOT NULL UNIQUE,
		payment_id BIGINT NOT NULL,
		invoice_id BIGINT NOT NULL,
		recipient_email TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NULL,
		created_at DATETIME NOT NULL,
		dispatched_at DATETIME NULL
	)`,
	`CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		event_key TEXT NOT NULL,
		event_type TEXT NOT NULL DEFAULT '',
		reference TEXT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME NULL,
		UNIQUE (provider, event_key)
	)`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT NULL,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NULL,
		metadata TEXT NULL,
		ip_address TEXT NULL,
		user_agent TEXT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh in-memory database with every service table created.
// Each test gets its own database keyed by its name.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_loc=auto", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// Node returns a snowflake node for test id generation.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// Count returns the number of rows in table matching where.
func Count(t testing.TB, db *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	var n int64
	stmt := db.Table(table)
	if where != "" {
		stmt = stmt.Where(where, args...)
	}
	if err := stmt.Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
