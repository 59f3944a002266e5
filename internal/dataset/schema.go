package dataset

// The transactions table holds the cleaned dataset. id preserves the
// import order, which is the order analytics groups appear in.

const sqliteTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    class INTEGER NOT NULL CHECK (class IN (0, 1)),
    country TEXT NOT NULL DEFAULT '',
    browser TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    purchase_time TEXT NOT NULL DEFAULT ''
);
`

const postgresTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    class INTEGER NOT NULL CHECK (class IN (0, 1)),
    country TEXT NOT NULL DEFAULT '',
    browser TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    purchase_time TEXT NOT NULL DEFAULT ''
);
`

const indexTransactionsClass = `
CREATE INDEX IF NOT EXISTS idx_transactions_class ON transactions(class);
`

// Schemas returns the schema statements for a driver, in order.
func Schemas(driver string) []string {
	table := sqliteTransactions
	if driver == "postgres" {
		table = postgresTransactions
	}
	return []string{
		table,
		indexTransactionsClass,
	}
}
