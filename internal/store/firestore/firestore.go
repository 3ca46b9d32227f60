// Package firestore implements the store on Google Cloud Firestore, for
// installs that want their data reachable from more than one machine.
// Document layout mirrors the SQLite schema: decimals as strings, dates
// as YYYY-MM-DD.
package firestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/store"
)

const (
	accountsCollection     = "finsync-accounts"
	transactionsCollection = "finsync-transactions"
	snapshotsCollection    = "finsync-balance-snapshots"
	integrationsCollection = "finsync-integrations"

	// Firestore caps "in" and "array-contains-any" filters at 10 values.
	queryBatchSize = 10
	// Firestore caps atomic write batches at 500 operations.
	writeBatchSize = 500
)

// Store is a Firestore-backed store.
type Store struct {
	client *firestore.Client
}

var _ store.Store = (*Store)(nil)

// Open creates a Firestore-backed store using Application Default
// Credentials, or the credentials file at credsPath when non-empty.
func Open(ctx context.Context, projectID, credsPath string) (*Store, error) {
	conf := &firebase.Config{ProjectID: projectID}
	var opts []option.ClientOption
	if credsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// Init is a no-op: Firestore collections exist on first write.
func (s *Store) Init(ctx context.Context) error { return nil }

func (s *Store) Close() error { return s.client.Close() }

// accountDoc is the Firestore representation of a domain.Account.
type accountDoc struct {
	ID                string            `firestore:"id"`
	Name              string            `firestore:"name"`
	Nickname          string            `firestore:"nickname"`
	AccountType       string            `firestore:"accountType"`
	Currency          string            `firestore:"currency"`
	ExternalIDs       map[string]string `firestore:"externalIds"`
	Balance           string            `firestore:"balance,omitempty"`
	InstitutionName   string            `firestore:"institutionName"`
	InstitutionURL    string            `firestore:"institutionUrl"`
	InstitutionDomain string            `firestore:"institutionDomain"`
	CreatedAt         time.Time         `firestore:"createdAt"`
	UpdatedAt         time.Time         `firestore:"updatedAt"`
}

// transactionDoc is the Firestore representation of a domain.Transaction.
// ExternalRefs holds "provider:id" pairs so lookups by external id can
// use array-contains-any; Fingerprint is denormalized for count queries.
type transactionDoc struct {
	ID                  string            `firestore:"id"`
	AccountID           string            `firestore:"accountId"`
	ExternalIDs         map[string]string `firestore:"externalIds"`
	ExternalRefs        []string          `firestore:"externalRefs"`
	Fingerprint         string            `firestore:"fingerprint"`
	Amount              string            `firestore:"amount"`
	Description         string            `firestore:"description"`
	TransactionDate     string            `firestore:"transactionDate"`
	PostedDate          string            `firestore:"postedDate"`
	Tags                []string          `firestore:"tags"`
	CreatedAt           time.Time         `firestore:"createdAt"`
	UpdatedAt           time.Time         `firestore:"updatedAt"`
	DeletedAt           *time.Time        `firestore:"deletedAt,omitempty"`
	ParentTransactionID string            `firestore:"parentTransactionId,omitempty"`
}

type snapshotDoc struct {
	ID           string    `firestore:"id"`
	AccountID    string    `firestore:"accountId"`
	Balance      string    `firestore:"balance"`
	SnapshotTime time.Time `firestore:"snapshotTime"`
	Date         string    `firestore:"date"`
	Source       string    `firestore:"source"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

type integrationDoc struct {
	Name      string            `firestore:"name"`
	Options   map[string]string `firestore:"options"`
	CreatedAt time.Time         `firestore:"createdAt"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

func (s *Store) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	iter := s.client.Collection(accountsCollection).Documents(ctx)
	var accounts []domain.Account
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate accounts: %w", err)
		}
		var d accountDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse account: %w", err)
		}
		acct, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	doc, err := s.client.Collection(accountsCollection).Doc(id.String()).Get(ctx)
	if err != nil {
		if doc != nil && !doc.Exists() {
			return domain.Account{}, store.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("failed to get account %s: %w", id, err)
	}
	var d accountDoc
	if err := doc.DataTo(&d); err != nil {
		return domain.Account{}, fmt.Errorf("failed to parse account: %w", err)
	}
	return d.toDomain()
}

func (s *Store) BulkUpsertAccounts(ctx context.Context, accounts []domain.Account) error {
	docs := make([]writeOp, 0, len(accounts))
	for _, acct := range accounts {
		if err := acct.Validate(); err != nil {
			return err
		}
		docs = append(docs, writeOp{
			ref:  s.client.Collection(accountsCollection).Doc(acct.ID.String()),
			data: accountToDoc(acct),
		})
	}
	return s.writeBatches(ctx, docs)
}

func (s *Store) GetTransactionsByExternalIDs(ctx context.Context, refs []store.ExternalIDRef) ([]domain.Transaction, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref.Provider+":"+ref.ID)
	}

	seen := map[string]struct{}{}
	var txs []domain.Transaction
	for start := 0; start < len(keys); start += queryBatchSize {
		end := start + queryBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		iter := s.client.Collection(transactionsCollection).
			Where("externalRefs", "array-contains-any", keys[start:end]).
			Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to iterate transactions: %w", err)
			}
			var d transactionDoc
			if err := doc.DataTo(&d); err != nil {
				return nil, fmt.Errorf("failed to parse transaction: %w", err)
			}
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			tx, err := d.toDomain()
			if err != nil {
				return nil, err
			}
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (s *Store) GetTransactionsByAccount(ctx context.Context, accountID uuid.UUID, order store.Order) ([]domain.Transaction, error) {
	dir := firestore.Asc
	if order == store.OrderDateDesc {
		dir = firestore.Desc
	}
	iter := s.client.Collection(transactionsCollection).
		Where("accountId", "==", accountID.String()).
		OrderBy("transactionDate", dir).
		Documents(ctx)

	var txs []domain.Transaction
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate transactions for account %s: %w", accountID, err)
		}
		var d transactionDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		if d.DeletedAt != nil {
			continue
		}
		tx, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (s *Store) BulkInsertTransactions(ctx context.Context, transactions []domain.Transaction) error {
	docs := make([]writeOp, 0, len(transactions))
	for _, tx := range transactions {
		if err := tx.Validate(); err != nil {
			return err
		}
		docs = append(docs, writeOp{
			ref:  s.client.Collection(transactionsCollection).Doc(tx.ID.String()),
			data: transactionToDoc(tx),
		})
	}
	return s.writeBatches(ctx, docs)
}

func (s *Store) UpdateTransactionTags(ctx context.Context, id uuid.UUID, tags []string) error {
	ref := s.client.Collection(transactionsCollection).Doc(id.String())
	if doc, err := ref.Get(ctx); err != nil {
		if doc != nil && !doc.Exists() {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "tags", Value: domain.NormalizeTags(tags)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("failed to update tags for %s: %w", id, err)
	}
	return nil
}

func (s *Store) MaxTransactionDate(ctx context.Context) (domain.Date, bool, error) {
	// Soft-deleted transactions cannot be excluded server-side: live docs
	// omit the deletedAt field entirely, so walk newest-first until a
	// live one turns up.
	iter := s.client.Collection(transactionsCollection).
		OrderBy("transactionDate", firestore.Desc).
		Select("transactionDate", "deletedAt").
		Documents(ctx)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return domain.Date{}, false, nil
		}
		if err != nil {
			return domain.Date{}, false, fmt.Errorf("failed to query max transaction date: %w", err)
		}
		var d transactionDoc
		if err := doc.DataTo(&d); err != nil {
			return domain.Date{}, false, fmt.Errorf("failed to parse transaction: %w", err)
		}
		if d.DeletedAt != nil {
			continue
		}
		date, err := domain.ParseDate(d.TransactionDate)
		if err != nil {
			return domain.Date{}, false, err
		}
		return date, true, nil
	}
}

func (s *Store) GetTransactionCountsByFingerprint(ctx context.Context, fingerprints []string) (map[string]int, error) {
	counts := map[string]int{}
	for start := 0; start < len(fingerprints); start += queryBatchSize {
		end := start + queryBatchSize
		if end > len(fingerprints) {
			end = len(fingerprints)
		}
		iter := s.client.Collection(transactionsCollection).
			Where("fingerprint", "in", fingerprints[start:end]).
			Documents(ctx)
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to count fingerprints: %w", err)
			}
			var d transactionDoc
			if err := doc.DataTo(&d); err != nil {
				return nil, fmt.Errorf("failed to parse transaction: %w", err)
			}
			if d.DeletedAt != nil {
				continue
			}
			counts[d.Fingerprint]++
		}
	}
	return counts, nil
}

func (s *Store) GetBalanceSnapshots(ctx context.Context, accountID *uuid.UUID, date *domain.Date) ([]domain.BalanceSnapshot, error) {
	q := s.client.Collection(snapshotsCollection).Query
	if accountID != nil {
		q = q.Where("accountId", "==", accountID.String())
	}
	if date != nil {
		q = q.Where("date", "==", date.String())
	}

	iter := q.Documents(ctx)
	var snaps []domain.BalanceSnapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
		}
		var d snapshotDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot: %w", err)
		}
		snap, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].SnapshotTime.Before(snaps[j].SnapshotTime) })
	return snaps, nil
}

func (s *Store) BulkAddBalances(ctx context.Context, snapshots []domain.BalanceSnapshot) error {
	docs := make([]writeOp, 0, len(snapshots))
	for _, snap := range snapshots {
		docs = append(docs, writeOp{
			ref: s.client.Collection(snapshotsCollection).Doc(snap.ID.String()),
			data: snapshotDoc{
				ID:           snap.ID.String(),
				AccountID:    snap.AccountID.String(),
				Balance:      snap.Balance.String(),
				SnapshotTime: snap.SnapshotTime,
				Date:         snap.Date().String(),
				Source:       string(snap.Source),
				CreatedAt:    snap.CreatedAt,
			},
		})
	}
	return s.writeBatches(ctx, docs)
}

func (s *Store) UpsertIntegration(ctx context.Context, name string, options map[string]string) error {
	ref := s.client.Collection(integrationsCollection).Doc(name)
	now := time.Now().UTC()
	created := now
	if doc, err := ref.Get(ctx); err == nil {
		var existing integrationDoc
		if err := doc.DataTo(&existing); err == nil && !existing.CreatedAt.IsZero() {
			created = existing.CreatedAt
		}
	}
	_, err := ref.Set(ctx, integrationDoc{
		Name:      name,
		Options:   options,
		CreatedAt: created,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert integration %s: %w", name, err)
	}
	return nil
}

func (s *Store) ListIntegrations(ctx context.Context) ([]domain.Integration, error) {
	iter := s.client.Collection(integrationsCollection).Documents(ctx)
	var integrations []domain.Integration
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate integrations: %w", err)
		}
		var d integrationDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse integration: %w", err)
		}
		integrations = append(integrations, domain.Integration{
			Name:      d.Name,
			Options:   d.Options,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		})
	}
	sort.Slice(integrations, func(i, j int) bool { return integrations[i].Name < integrations[j].Name })
	return integrations, nil
}

func (s *Store) GetIntegrationSettings(ctx context.Context, name string) (map[string]string, error) {
	doc, err := s.client.Collection(integrationsCollection).Doc(name).Get(ctx)
	if err != nil {
		if doc != nil && !doc.Exists() {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get integration %s: %w", name, err)
	}
	var d integrationDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to parse integration: %w", err)
	}
	return d.Options, nil
}

func (s *Store) GetStats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	var err error
	if stats.Accounts, err = s.countCollection(ctx, accountsCollection); err != nil {
		return store.Stats{}, err
	}
	if stats.Snapshots, err = s.countCollection(ctx, snapshotsCollection); err != nil {
		return store.Stats{}, err
	}
	if stats.Integrations, err = s.countCollection(ctx, integrationsCollection); err != nil {
		return store.Stats{}, err
	}

	iter := s.client.Collection(transactionsCollection).
		Select("transactionDate", "deletedAt").Documents(ctx)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return store.Stats{}, fmt.Errorf("failed to iterate transactions: %w", err)
		}
		var d transactionDoc
		if err := doc.DataTo(&d); err != nil {
			return store.Stats{}, fmt.Errorf("failed to parse transaction: %w", err)
		}
		if d.DeletedAt != nil {
			continue
		}
		stats.Transactions++
		date, err := domain.ParseDate(d.TransactionDate)
		if err != nil {
			continue
		}
		if stats.EarliestDate.IsZero() || date.Before(stats.EarliestDate) {
			stats.EarliestDate = date
		}
		if stats.LatestDate.IsZero() || stats.LatestDate.Before(date) {
			stats.LatestDate = date
		}
	}
	return stats, nil
}

func (s *Store) countCollection(ctx context.Context, name string) (int, error) {
	iter := s.client.Collection(name).Select().Documents(ctx)
	n := 0
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to count %s: %w", name, err)
		}
		n++
	}
}

type writeOp struct {
	ref  *firestore.DocumentRef
	data any
}

// writeBatches commits ops in atomic chunks. A single reconciliation
// run almost never exceeds one chunk, so the store contract's
// all-or-nothing behavior holds in practice.
func (s *Store) writeBatches(ctx context.Context, ops []writeOp) error {
	for start := 0; start < len(ops); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(ops) {
			end = len(ops)
		}
		batch := s.client.Batch()
		for _, op := range ops[start:end] {
			batch.Set(op.ref, op.data)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit write batch: %w", err)
		}
	}
	return nil
}

func accountToDoc(acct domain.Account) accountDoc {
	doc := accountDoc{
		ID:                acct.ID.String(),
		Name:              acct.Name,
		Nickname:          acct.Nickname,
		AccountType:       acct.AccountType,
		Currency:          acct.Currency,
		ExternalIDs:       acct.ExternalIDs,
		InstitutionName:   acct.InstitutionName,
		InstitutionURL:    acct.InstitutionURL,
		InstitutionDomain: acct.InstitutionDomain,
		CreatedAt:         acct.CreatedAt,
		UpdatedAt:         acct.UpdatedAt,
	}
	if acct.Balance != nil {
		doc.Balance = acct.Balance.String()
	}
	return doc
}

func (d accountDoc) toDomain() (domain.Account, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Account{}, fmt.Errorf("corrupt account id %q: %w", d.ID, err)
	}
	acct := domain.Account{
		ID:                id,
		Name:              d.Name,
		Nickname:          d.Nickname,
		AccountType:       d.AccountType,
		Currency:          d.Currency,
		ExternalIDs:       d.ExternalIDs,
		InstitutionName:   d.InstitutionName,
		InstitutionURL:    d.InstitutionURL,
		InstitutionDomain: d.InstitutionDomain,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.Balance != "" {
		bal, err := decimal.NewFromString(d.Balance)
		if err != nil {
			return domain.Account{}, fmt.Errorf("corrupt balance for account %s: %w", d.ID, err)
		}
		acct.Balance = &bal
	}
	return acct, nil
}

func transactionToDoc(tx domain.Transaction) transactionDoc {
	refs := make([]string, 0, len(tx.ExternalIDs))
	for provider, id := range tx.ExternalIDs {
		if provider == domain.FingerprintKey {
			continue
		}
		refs = append(refs, provider+":"+id)
	}
	sort.Strings(refs)

	doc := transactionDoc{
		ID:              tx.ID.String(),
		AccountID:       tx.AccountID.String(),
		ExternalIDs:     tx.ExternalIDs,
		ExternalRefs:    refs,
		Fingerprint:     tx.Fingerprint(),
		Amount:          tx.Amount.String(),
		Description:     tx.Description,
		TransactionDate: tx.TransactionDate.String(),
		PostedDate:      tx.PostedDate.String(),
		Tags:            tx.Tags,
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
		DeletedAt:       tx.DeletedAt,
	}
	if tx.ParentTransactionID != nil {
		doc.ParentTransactionID = tx.ParentTransactionID.String()
	}
	return doc
}

func (d transactionDoc) toDomain() (domain.Transaction, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("corrupt transaction id %q: %w", d.ID, err)
	}
	accountID, err := uuid.Parse(d.AccountID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("corrupt account id for transaction %s: %w", d.ID, err)
	}
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("corrupt amount for transaction %s: %w", d.ID, err)
	}
	txDate, err := domain.ParseDate(d.TransactionDate)
	if err != nil {
		return domain.Transaction{}, err
	}
	postedDate, err := domain.ParseDate(d.PostedDate)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx := domain.Transaction{
		ID:              id,
		AccountID:       accountID,
		ExternalIDs:     d.ExternalIDs,
		Amount:          amount,
		Description:     d.Description,
		TransactionDate: txDate,
		PostedDate:      postedDate,
		Tags:            d.Tags,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		DeletedAt:       d.DeletedAt,
	}
	if d.ParentTransactionID != "" {
		pid, err := uuid.Parse(d.ParentTransactionID)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("corrupt parent id for transaction %s: %w", d.ID, err)
		}
		tx.ParentTransactionID = &pid
	}
	return tx, nil
}

func (d snapshotDoc) toDomain() (domain.BalanceSnapshot, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("corrupt snapshot id %q: %w", d.ID, err)
	}
	accountID, err := uuid.Parse(d.AccountID)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("corrupt account id for snapshot %s: %w", d.ID, err)
	}
	balance, err := decimal.NewFromString(d.Balance)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("corrupt balance for snapshot %s: %w", d.ID, err)
	}
	return domain.BalanceSnapshot{
		ID:           id,
		AccountID:    accountID,
		Balance:      balance,
		SnapshotTime: d.SnapshotTime,
		Source:       domain.SnapshotSource(d.Source),
		CreatedAt:    d.CreatedAt,
	}, nil
}
