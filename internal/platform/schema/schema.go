// Package schema embeds the DDL each service applies once at startup.
// Migration tooling and versioned schema evolution are out of scope (spec
// §1); this is a minimal "create if not exists" bootstrap, not a migrator.
package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// Apply runs ddl against db inside a single transaction.
func Apply(ctx context.Context, db *sql.DB, ddl string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("schema: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("schema: apply: %w", err)
	}
	return tx.Commit()
}

// OutboxAndIdempotency is the pair of tables every service owns per spec §3.
const OutboxAndIdempotency = `
CREATE TABLE IF NOT EXISTS outbox (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	type           TEXT NOT NULL,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	processed      BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (created_at) WHERE processed = false;

CREATE TABLE IF NOT EXISTS processed_events (
	event_key TEXT PRIMARY KEY
);
`

// Order is the Order service's own tables, in addition to OutboxAndIdempotency.
const Order = `
CREATE TABLE IF NOT EXISTS orders (
	id               UUID PRIMARY KEY,
	user_id          TEXT NOT NULL,
	store_id         TEXT NOT NULL,
	courier_id       TEXT,
	status           TEXT NOT NULL,
	total_price      NUMERIC(12,2) NOT NULL,
	shipping_address TEXT NOT NULL,
	pickup_address   TEXT,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
	order_id     UUID NOT NULL REFERENCES orders(id),
	product_id   TEXT NOT NULL,
	product_name TEXT NOT NULL,
	price        NUMERIC(12,2) NOT NULL,
	quantity     INTEGER NOT NULL CHECK (quantity > 0)
);

CREATE TABLE IF NOT EXISTS product_snapshots (
	product_id TEXT PRIMARY KEY,
	store_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	price      NUMERIC(12,2) NOT NULL,
	stock      INTEGER NOT NULL,
	available  BOOLEAN NOT NULL
);
`

// Store is the Store service's own tables.
const Store = `
CREATE TABLE IF NOT EXISTS stores (
	id             TEXT PRIMARY KEY,
	pickup_address TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY,
	category_id TEXT NOT NULL,
	store_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	price      NUMERIC(12,2) NOT NULL,
	stock      INTEGER NOT NULL CHECK (stock >= 0),
	available  BOOLEAN NOT NULL
);
`

// Courier is the Courier service's own tables.
const Courier = `
CREATE TABLE IF NOT EXISTS couriers (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	lat        DOUBLE PRECISION,
	lng        DOUBLE PRECISION,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Notification is the Notification service's own tables.
const Notification = `
CREATE TABLE IF NOT EXISTS notifications (
	id           UUID PRIMARY KEY,
	user_id      TEXT NOT NULL,
	type         TEXT NOT NULL,
	order_id     TEXT NOT NULL,
	store_id     TEXT,
	courier_id   TEXT,
	message      TEXT NOT NULL,
	payload      JSONB NOT NULL,
	is_read      BOOLEAN NOT NULL DEFAULT false,
	delivered_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications (user_id) WHERE delivered_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications (user_id, created_at DESC) WHERE is_read = false;
`
