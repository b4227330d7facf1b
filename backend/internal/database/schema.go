package database

// Schema is applied by Migrate. Amounts are NUMERIC and travel as text so no
// float ever touches a balance.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id          UUID PRIMARY KEY,
	balance     NUMERIC NOT NULL CHECK (balance >= 0),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS lots (
	id          TEXT PRIMARY KEY,
	account_id  UUID NOT NULL REFERENCES accounts (id),
	symbol      TEXT NOT NULL,
	quantity    NUMERIC NOT NULL CHECK (quantity > 0),
	unit_price  NUMERIC NOT NULL CHECK (unit_price > 0),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS lots_account_symbol_idx ON lots (account_id, symbol);

CREATE TABLE IF NOT EXISTS transactions (
	id             TEXT PRIMARY KEY,
	account_id     UUID NOT NULL REFERENCES accounts (id),
	symbol         TEXT NOT NULL,
	quantity       NUMERIC NOT NULL,
	buy_price      NUMERIC NOT NULL,
	kind           TEXT NOT NULL CHECK (kind IN ('hold', 'sold')),
	sale_proceeds  NUMERIC,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	sold_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS transactions_account_created_idx ON transactions (account_id, created_at, id);
`
