package postgres

import (
	"context"
	"fmt"
)

// SchemaSQL creates every table the repositories use. Statements are
// idempotent so Migrate can run on each start.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS balances (
    user_id UUID NOT NULL,
    currency VARCHAR(10) NOT NULL,
    available NUMERIC(30,8) NOT NULL DEFAULT 0 CHECK (available >= 0),
    locked NUMERIC(30,8) NOT NULL DEFAULT 0 CHECK (locked >= 0),
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, currency)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id CHAR(26) PRIMARY KEY,
    user_id UUID NOT NULL,
    currency VARCHAR(10) NOT NULL,
    kind VARCHAR(16) NOT NULL,
    amount NUMERIC(30,8) NOT NULL,
    available_after NUMERIC(30,8) NOT NULL,
    locked_after NUMERIC(30,8) NOT NULL,
    reference_type VARCHAR(16) NOT NULL,
    reference_id TEXT NOT NULL,
    memo TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS quotes (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    side VARCHAR(4) NOT NULL CHECK (side IN ('buy', 'sell')),
    currency VARCHAR(10) NOT NULL,
    fiat_currency VARCHAR(10) NOT NULL,
    crypto_amount NUMERIC(30,8) NOT NULL CHECK (crypto_amount > 0),
    reference_price NUMERIC(30,8) NOT NULL,
    locked_price NUMERIC(30,8) NOT NULL,
    fee_percent NUMERIC(10,4) NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
    status VARCHAR(10) NOT NULL CHECK (status IN ('active', 'executed', 'expired')),
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    executed_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS offers (
    id UUID PRIMARY KEY,
    seller_id UUID NOT NULL,
    ad_type VARCHAR(8) NOT NULL,
    crypto_currency VARCHAR(10) NOT NULL,
    fiat_currency VARCHAR(10) NOT NULL,
    price_type VARCHAR(10) NOT NULL CHECK (price_type IN ('fixed', 'floating')),
    price_value NUMERIC(30,8) NOT NULL,
    min_amount NUMERIC(30,8) NOT NULL DEFAULT 0,
    max_amount NUMERIC(30,8) NOT NULL DEFAULT 0,
    available_amount NUMERIC(30,8) NOT NULL CHECK (available_amount >= 0),
    payment_methods TEXT[] NOT NULL,
    boosted_until TIMESTAMP WITH TIME ZONE,
    status VARCHAR(10) NOT NULL CHECK (status IN ('active', 'closed')),
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trades (
    id UUID PRIMARY KEY,
    sell_order_id UUID NOT NULL REFERENCES offers(id),
    buyer_id UUID NOT NULL,
    seller_id UUID NOT NULL,
    crypto_currency VARCHAR(10) NOT NULL,
    crypto_amount NUMERIC(30,8) NOT NULL CHECK (crypto_amount > 0),
    fiat_currency VARCHAR(10) NOT NULL,
    fiat_amount NUMERIC(30,8) NOT NULL,
    unit_price NUMERIC(30,8) NOT NULL,
    payment_method TEXT NOT NULL DEFAULT '',
    buyer_wallet_address TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL CHECK (status IN ('escrowed', 'payment_claimed', 'released', 'disputed', 'resolved', 'cancelled')),
    fee_amount NUMERIC(30,8) NOT NULL DEFAULT 0,
    auto_cancel_at TIMESTAMP WITH TIME ZONE,
    auto_release_at TIMESTAMP WITH TIME ZONE,
    payment_claimed_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS disputes (
    id UUID PRIMARY KEY,
    trade_id UUID NOT NULL REFERENCES trades(id),
    buyer_id UUID NOT NULL,
    seller_id UUID NOT NULL,
    amount NUMERIC(30,8) NOT NULL,
    currency VARCHAR(10) NOT NULL,
    reason TEXT NOT NULL,
    initiated_by UUID NOT NULL,
    status VARCHAR(16) NOT NULL CHECK (status IN ('open', 'under_review', 'resolved', 'cancelled')),
    winner VARCHAR(8) NOT NULL DEFAULT '',
    resolution_note TEXT NOT NULL DEFAULT '',
    admin_note TEXT NOT NULL DEFAULT '',
    admin_id UUID,
    fee_amount NUMERIC(30,8) NOT NULL DEFAULT 0,
    fee_currency VARCHAR(10) NOT NULL DEFAULT '',
    fee_charged BOOLEAN NOT NULL DEFAULT FALSE,
    version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    resolved_at TIMESTAMP WITH TIME ZONE
);

CREATE TABLE IF NOT EXISTS trade_events (
    id CHAR(26) PRIMARY KEY,
    trade_id UUID NOT NULL REFERENCES trades(id),
    event_type VARCHAR(32) NOT NULL,
    from_status VARCHAR(20) NOT NULL DEFAULT '',
    to_status VARCHAR(20) NOT NULL,
    actor_id UUID NOT NULL,
    buyer_id UUID NOT NULL,
    seller_id UUID NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS idempotency_logs (
    key TEXT PRIMARY KEY,
    trade_id UUID NOT NULL,
    response_json BYTEA NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_logs (
    id UUID PRIMARY KEY,
    user_id UUID,
    action VARCHAR(32) NOT NULL,
    resource_type VARCHAR(32) NOT NULL,
    resource_id TEXT,
    details TEXT,
    ip_address VARCHAR(64),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries(user_id, currency);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference ON ledger_entries(reference_type, reference_id);
CREATE INDEX IF NOT EXISTS idx_quotes_active_expiry ON quotes(expires_at) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_offers_market ON offers(crypto_currency, fiat_currency, status);
CREATE INDEX IF NOT EXISTS idx_offers_seller ON offers(seller_id);
CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades(buyer_id);
CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades(seller_id);
CREATE INDEX IF NOT EXISTS idx_trades_auto_cancel ON trades(auto_cancel_at) WHERE status = 'escrowed';
CREATE INDEX IF NOT EXISTS idx_trades_auto_release ON trades(auto_release_at) WHERE status = 'payment_claimed';
CREATE UNIQUE INDEX IF NOT EXISTS idx_disputes_trade ON disputes(trade_id);
CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status, created_at);
CREATE INDEX IF NOT EXISTS idx_trade_events_trade ON trade_events(trade_id);
`

// Migrate applies SchemaSQL.
func Migrate(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
