// Package sqlite implements the store on a local SQLite database file.
// This is the default backend: a single file, no server, safe for the
// engine's single-writer model.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	nickname           TEXT NOT NULL DEFAULT '',
	account_type       TEXT NOT NULL DEFAULT '',
	currency           TEXT NOT NULL DEFAULT 'USD',
	external_ids       TEXT NOT NULL DEFAULT '{}',
	balance            TEXT,
	institution_name   TEXT NOT NULL DEFAULT '',
	institution_url    TEXT NOT NULL DEFAULT '',
	institution_domain TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id                    TEXT PRIMARY KEY,
	account_id            TEXT NOT NULL REFERENCES accounts(id),
	external_ids          TEXT NOT NULL DEFAULT '{}',
	fingerprint           TEXT NOT NULL,
	amount                TEXT NOT NULL,
	description           TEXT NOT NULL,
	transaction_date      TEXT NOT NULL,
	posted_date           TEXT NOT NULL,
	tags                  TEXT NOT NULL DEFAULT '[]',
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL,
	deleted_at            TEXT,
	parent_transaction_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_transactions_fingerprint
	ON transactions(fingerprint);
CREATE INDEX IF NOT EXISTS idx_transactions_account_date
	ON transactions(account_id, transaction_date);

CREATE TABLE IF NOT EXISTS transaction_external_ids (
	transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	provider       TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	PRIMARY KEY (provider, external_id, transaction_id)
);

CREATE TABLE IF NOT EXISTS balance_snapshots (
	id            TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL REFERENCES accounts(id),
	balance       TEXT NOT NULL,
	snapshot_time TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_account_time
	ON balance_snapshots(account_id, snapshot_time);

CREATE TABLE IF NOT EXISTS integrations (
	name       TEXT PRIMARY KEY,
	options    TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Store is a SQLite-backed store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	// The engine is single-writer; a second connection would only
	// contend for the file lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

const accountColumns = `id, name, nickname, account_type, currency, external_ids,
	balance, institution_name, institution_url, institution_domain, created_at, updated_at`

func (s *Store) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) GetAccountByID(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id.String())
	acct, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return domain.Account{}, store.ErrNotFound
	}
	return acct, err
}

func (s *Store) BulkUpsertAccounts(ctx context.Context, accounts []domain.Account) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, acct := range accounts {
			if err := acct.Validate(); err != nil {
				return err
			}
			extIDs, err := json.Marshal(acct.ExternalIDs)
			if err != nil {
				return fmt.Errorf("encoding external ids: %w", err)
			}
			var balance any
			if acct.Balance != nil {
				balance = acct.Balance.String()
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO accounts (`+accountColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					nickname = excluded.nickname,
					account_type = excluded.account_type,
					currency = excluded.currency,
					external_ids = excluded.external_ids,
					balance = excluded.balance,
					institution_name = excluded.institution_name,
					institution_url = excluded.institution_url,
					institution_domain = excluded.institution_domain,
					updated_at = excluded.updated_at`,
				acct.ID.String(), acct.Name, acct.Nickname, acct.AccountType, acct.Currency,
				string(extIDs), balance, acct.InstitutionName, acct.InstitutionURL,
				acct.InstitutionDomain, formatTime(acct.CreatedAt), formatTime(acct.UpdatedAt))
			if err != nil {
				return fmt.Errorf("upserting account %s: %w", acct.ID, err)
			}
		}
		return nil
	})
}

const transactionColumns = `id, account_id, external_ids, amount, description,
	transaction_date, posted_date, tags, created_at, updated_at, deleted_at, parent_transaction_id`

func (s *Store) GetTransactionsByExternalIDs(ctx context.Context, refs []store.ExternalIDRef) ([]domain.Transaction, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(refs))
	args := make([]any, 0, len(refs)*2)
	for _, ref := range refs {
		clauses = append(clauses, "(e.provider = ? AND e.external_id = ?)")
		args = append(args, ref.Provider, ref.ID)
	}
	query := `SELECT DISTINCT ` + prefixColumns("t", transactionColumns) + `
		FROM transactions t
		JOIN transaction_external_ids e ON e.transaction_id = t.id
		WHERE ` + strings.Join(clauses, " OR ")

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions by external id: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *Store) GetTransactionsByAccount(ctx context.Context, accountID uuid.UUID, order store.Order) ([]domain.Transaction, error) {
	dir := "ASC"
	if order == store.OrderDateDesc {
		dir = "DESC"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = ? AND deleted_at IS NULL
		ORDER BY transaction_date `+dir, accountID.String())
	if err != nil {
		return nil, fmt.Errorf("querying transactions for account %s: %w", accountID, err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *Store) BulkInsertTransactions(ctx context.Context, transactions []domain.Transaction) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, txn := range transactions {
			if err := txn.Validate(); err != nil {
				return err
			}
			extIDs, err := json.Marshal(txn.ExternalIDs)
			if err != nil {
				return fmt.Errorf("encoding external ids: %w", err)
			}
			tags, err := json.Marshal(txn.Tags)
			if err != nil {
				return fmt.Errorf("encoding tags: %w", err)
			}
			var deletedAt, parentID any
			if txn.DeletedAt != nil {
				deletedAt = formatTime(*txn.DeletedAt)
			}
			if txn.ParentTransactionID != nil {
				parentID = txn.ParentTransactionID.String()
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO transactions (id, account_id, external_ids, fingerprint, amount,
					description, transaction_date, posted_date, tags, created_at, updated_at,
					deleted_at, parent_transaction_id)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				txn.ID.String(), txn.AccountID.String(), string(extIDs), txn.Fingerprint(),
				txn.Amount.String(), txn.Description, txn.TransactionDate.String(),
				txn.PostedDate.String(), string(tags), formatTime(txn.CreatedAt),
				formatTime(txn.UpdatedAt), deletedAt, parentID)
			if err != nil {
				return fmt.Errorf("inserting transaction %s: %w", txn.ID, err)
			}
			for provider, extID := range txn.ExternalIDs {
				if provider == domain.FingerprintKey {
					continue
				}
				_, err = tx.ExecContext(ctx, `
					INSERT INTO transaction_external_ids (transaction_id, provider, external_id)
					VALUES (?, ?, ?)`,
					txn.ID.String(), provider, extID)
				if err != nil {
					return fmt.Errorf("indexing external id for %s: %w", txn.ID, err)
				}
			}
		}
		return nil
	})
}

func (s *Store) UpdateTransactionTags(ctx context.Context, id uuid.UUID, tags []string) error {
	encoded, err := json.Marshal(domain.NormalizeTags(tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET tags = ?, updated_at = ? WHERE id = ?",
		string(encoded), formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return fmt.Errorf("updating tags for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MaxTransactionDate(ctx context.Context) (domain.Date, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(transaction_date) FROM transactions WHERE deleted_at IS NULL").Scan(&raw)
	if err != nil {
		return domain.Date{}, false, fmt.Errorf("querying max transaction date: %w", err)
	}
	if !raw.Valid {
		return domain.Date{}, false, nil
	}
	date, err := domain.ParseDate(raw.String)
	if err != nil {
		return domain.Date{}, false, err
	}
	return date, true, nil
}

func (s *Store) GetTransactionCountsByFingerprint(ctx context.Context, fingerprints []string) (map[string]int, error) {
	counts := map[string]int{}
	if len(fingerprints) == 0 {
		return counts, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fingerprints)), ",")
	args := make([]any, len(fingerprints))
	for i, fp := range fingerprints {
		args[i] = fp
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, COUNT(*) FROM transactions
		WHERE fingerprint IN (`+placeholders+`) AND deleted_at IS NULL
		GROUP BY fingerprint`, args...)
	if err != nil {
		return nil, fmt.Errorf("counting fingerprints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fp string
		var n int
		if err := rows.Scan(&fp, &n); err != nil {
			return nil, err
		}
		counts[fp] = n
	}
	return counts, rows.Err()
}

func (s *Store) GetBalanceSnapshots(ctx context.Context, accountID *uuid.UUID, date *domain.Date) ([]domain.BalanceSnapshot, error) {
	query := `SELECT id, account_id, balance, snapshot_time, source, created_at
		FROM balance_snapshots WHERE 1=1`
	var args []any
	if accountID != nil {
		query += " AND account_id = ?"
		args = append(args, accountID.String())
	}
	if date != nil {
		// snapshot_time is RFC 3339, so the date is its first ten bytes.
		query += " AND substr(snapshot_time, 1, 10) = ?"
		args = append(args, date.String())
	}
	query += " ORDER BY snapshot_time"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying balance snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.BalanceSnapshot
	for rows.Next() {
		var (
			snap                             domain.BalanceSnapshot
			id, acctID, bal, at, src, create string
		)
		if err := rows.Scan(&id, &acctID, &bal, &at, &src, &create); err != nil {
			return nil, err
		}
		if snap.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt snapshot id %q: %w", id, err)
		}
		if snap.AccountID, err = uuid.Parse(acctID); err != nil {
			return nil, fmt.Errorf("corrupt snapshot account id %q: %w", acctID, err)
		}
		if snap.Balance, err = decimal.NewFromString(bal); err != nil {
			return nil, fmt.Errorf("corrupt snapshot balance %q: %w", bal, err)
		}
		if snap.SnapshotTime, err = parseTime(at); err != nil {
			return nil, err
		}
		snap.Source = domain.SnapshotSource(src)
		if snap.CreatedAt, err = parseTime(create); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *Store) BulkAddBalances(ctx context.Context, snapshots []domain.BalanceSnapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, snap := range snapshots {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO balance_snapshots (id, account_id, balance, snapshot_time, source, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				snap.ID.String(), snap.AccountID.String(), snap.Balance.String(),
				formatTime(snap.SnapshotTime), string(snap.Source), formatTime(snap.CreatedAt))
			if err != nil {
				return fmt.Errorf("inserting snapshot %s: %w", snap.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) UpsertIntegration(ctx context.Context, name string, options map[string]string) error {
	encoded, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("encoding integration options: %w", err)
	}
	now := formatTime(time.Now().UTC())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations (name, options, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET options = excluded.options, updated_at = excluded.updated_at`,
		name, string(encoded), now, now)
	if err != nil {
		return fmt.Errorf("upserting integration %s: %w", name, err)
	}
	return nil
}

func (s *Store) ListIntegrations(ctx context.Context) ([]domain.Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, options, created_at, updated_at FROM integrations ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	defer rows.Close()

	var integrations []domain.Integration
	for rows.Next() {
		var integ domain.Integration
		var options, created, updated string
		if err := rows.Scan(&integ.Name, &options, &created, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(options), &integ.Options); err != nil {
			return nil, fmt.Errorf("corrupt options for integration %s: %w", integ.Name, err)
		}
		if integ.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if integ.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		integrations = append(integrations, integ)
	}
	return integrations, rows.Err()
}

func (s *Store) GetIntegrationSettings(ctx context.Context, name string) (map[string]string, error) {
	var options string
	err := s.db.QueryRowContext(ctx,
		"SELECT options FROM integrations WHERE name = ?", name).Scan(&options)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying integration %s: %w", name, err)
	}
	var settings map[string]string
	if err := json.Unmarshal([]byte(options), &settings); err != nil {
		return nil, fmt.Errorf("corrupt options for integration %s: %w", name, err)
	}
	return settings, nil
}

func (s *Store) GetStats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM transactions WHERE deleted_at IS NULL),
			(SELECT COUNT(*) FROM balance_snapshots),
			(SELECT COUNT(*) FROM integrations),
			(SELECT MIN(transaction_date) FROM transactions WHERE deleted_at IS NULL),
			(SELECT MAX(transaction_date) FROM transactions WHERE deleted_at IS NULL)`)
	var earliest, latest sql.NullString
	if err := row.Scan(&stats.Accounts, &stats.Transactions, &stats.Snapshots,
		&stats.Integrations, &earliest, &latest); err != nil {
		return store.Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	var err error
	if earliest.Valid {
		if stats.EarliestDate, err = domain.ParseDate(earliest.String); err != nil {
			return store.Stats{}, err
		}
	}
	if latest.Valid {
		if stats.LatestDate, err = domain.ParseDate(latest.String); err != nil {
			return store.Stats{}, err
		}
	}
	return stats, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		acct                 domain.Account
		id, extIDs           string
		balance              sql.NullString
		created, updated     string
	)
	err := row.Scan(&id, &acct.Name, &acct.Nickname, &acct.AccountType, &acct.Currency,
		&extIDs, &balance, &acct.InstitutionName, &acct.InstitutionURL,
		&acct.InstitutionDomain, &created, &updated)
	if err != nil {
		return domain.Account{}, err
	}
	if acct.ID, err = uuid.Parse(id); err != nil {
		return domain.Account{}, fmt.Errorf("corrupt account id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(extIDs), &acct.ExternalIDs); err != nil {
		return domain.Account{}, fmt.Errorf("corrupt external ids for account %s: %w", id, err)
	}
	if balance.Valid {
		bal, err := decimal.NewFromString(balance.String)
		if err != nil {
			return domain.Account{}, fmt.Errorf("corrupt balance for account %s: %w", id, err)
		}
		acct.Balance = &bal
	}
	if acct.CreatedAt, err = parseTime(created); err != nil {
		return domain.Account{}, err
	}
	if acct.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Account{}, err
	}
	return acct, nil
}

func scanTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for rows.Next() {
		var (
			txn                            domain.Transaction
			id, acctID, extIDs, amount     string
			txDate, postedDate, tags       string
			created, updated               string
			deletedAt, parentID            sql.NullString
		)
		err := rows.Scan(&id, &acctID, &extIDs, &amount, &txn.Description,
			&txDate, &postedDate, &tags, &created, &updated, &deletedAt, &parentID)
		if err != nil {
			return nil, err
		}
		if txn.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt transaction id %q: %w", id, err)
		}
		if txn.AccountID, err = uuid.Parse(acctID); err != nil {
			return nil, fmt.Errorf("corrupt account id for transaction %s: %w", id, err)
		}
		if err := json.Unmarshal([]byte(extIDs), &txn.ExternalIDs); err != nil {
			return nil, fmt.Errorf("corrupt external ids for transaction %s: %w", id, err)
		}
		if txn.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount for transaction %s: %w", id, err)
		}
		if txn.TransactionDate, err = domain.ParseDate(txDate); err != nil {
			return nil, err
		}
		if txn.PostedDate, err = domain.ParseDate(postedDate); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &txn.Tags); err != nil {
			return nil, fmt.Errorf("corrupt tags for transaction %s: %w", id, err)
		}
		if txn.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if txn.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		if deletedAt.Valid {
			t, err := parseTime(deletedAt.String)
			if err != nil {
				return nil, err
			}
			txn.DeletedAt = &t
		}
		if parentID.Valid {
			pid, err := uuid.Parse(parentID.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt parent id for transaction %s: %w", id, err)
			}
			txn.ParentTransactionID = &pid
		}
		txs = append(txs, txn)
	}
	return txs, rows.Err()
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}
