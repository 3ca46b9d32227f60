package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/logger"
	"github.com/rumor-ml/commons.systems/finsync/internal/store"
)

// SkippedImport records a transaction dropped by import dedup, tagged
// with the fingerprint and the stored count it was compared against.
type SkippedImport struct {
	Fingerprint   string
	Date          domain.Date
	Amount        decimal.Decimal
	Description   string
	ExistingCount int
}

// ImportResult reports one bulk import run.
type ImportResult struct {
	Discovered int
	Imported   int
	Skipped    []SkippedImport
}

// Importer reconciles one-time imports (CSV and OFX files) into the
// store. File sources rarely carry stable external ids, so dedup is
// count-based per fingerprint rather than id-based: for a fingerprint
// appearing D times in the file and E times in the store, the first
// max(0, D−E) occurrences are imported and the rest skipped. Two
// genuinely identical transactions (the same $5 coffee twice in one day)
// both import the first time, and re-importing the same file imports
// nothing.
type Importer struct {
	store  store.Store
	tagger Tagger
}

// NewImporter creates an importer. tagger may be nil to disable tagging.
func NewImporter(st store.Store, tagger Tagger) *Importer {
	return &Importer{store: st, tagger: tagger}
}

// ImportTransactions reconciles discovered transactions onto the target
// account and bulk-inserts the survivors. File order is preserved both
// in what imports and in what skips.
func (im *Importer) ImportTransactions(ctx context.Context, accountID uuid.UUID, discovered []domain.Transaction, dryRun bool) (ImportResult, error) {
	log := logger.FromContext(ctx)
	result := ImportResult{Discovered: len(discovered)}
	if len(discovered) == 0 {
		return result, nil
	}

	remapped := make([]domain.Transaction, len(discovered))
	fingerprints := make([]string, 0, len(discovered))
	seen := make(map[string]struct{}, len(discovered))
	for i, tx := range discovered {
		remapped[i] = tx.Remap(accountID)
		fp := remapped[i].Fingerprint()
		if _, dup := seen[fp]; !dup {
			seen[fp] = struct{}{}
			fingerprints = append(fingerprints, fp)
		}
	}

	existing, err := im.store.GetTransactionCountsByFingerprint(ctx, fingerprints)
	if err != nil {
		return result, fmt.Errorf("counting existing fingerprints: %w", err)
	}

	groupSize := make(map[string]int, len(fingerprints))
	for _, tx := range remapped {
		groupSize[tx.Fingerprint()]++
	}

	// Within each fingerprint group of size D with E stored copies, the
	// first D−E occurrences import and the remainder skip.
	importedSoFar := make(map[string]int, len(fingerprints))
	toImport := make([]domain.Transaction, 0, len(remapped))
	for _, tx := range remapped {
		fp := tx.Fingerprint()
		if importedSoFar[fp] >= groupSize[fp]-existing[fp] {
			result.Skipped = append(result.Skipped, SkippedImport{
				Fingerprint:   fp,
				Date:          tx.TransactionDate,
				Amount:        tx.Amount,
				Description:   tx.Description,
				ExistingCount: existing[fp],
			})
			continue
		}
		importedSoFar[fp]++
		if im.tagger != nil {
			tx = tx.WithTags(im.tagger.Tags(tx.Description)...)
		}
		toImport = append(toImport, tx)
	}
	result.Imported = len(toImport)

	if dryRun || len(toImport) == 0 {
		return result, nil
	}
	if err := im.store.BulkInsertTransactions(ctx, toImport); err != nil {
		return result, fmt.Errorf("persisting imported transactions: %w", err)
	}
	log.Debug().Int("imported", len(toImport)).Int("skipped", len(result.Skipped)).Msg("import persisted")
	return result, nil
}
