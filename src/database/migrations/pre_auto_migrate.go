package migrations

import (
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const legacyTransactionsTable = "transactions"

// PrepareLegacyTransactions removes duplicate ledger rows left by older writers that
// could append the same buy leg twice. It must run before the (exchange, id) unique
// index is created, which fails on duplicated data.
func PrepareLegacyTransactions(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return RunOnce(db, "00001_dedupe_legacy_transactions", dedupeLegacyTransactions)
}

func dedupeLegacyTransactions(db *gorm.DB) error {
	if !db.Migrator().HasTable(legacyTransactionsTable) {
		return nil
	}

	var stmt string
	switch db.Dialector.Name() {
	case "postgres":
		stmt = `DELETE FROM transactions a USING transactions b
			WHERE a.ctid > b.ctid AND a.exchange = b.exchange AND a.id = b.id`
	case "sqlite":
		stmt = `DELETE FROM transactions WHERE rowid NOT IN
			(SELECT MIN(rowid) FROM transactions GROUP BY exchange, id)`
	default:
		return fmt.Errorf("dedupe transactions: unsupported dialect %q", db.Dialector.Name())
	}

	res := db.Exec(stmt)
	if res.Error != nil {
		return fmt.Errorf("dedupe transactions: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{
			"table":   legacyTransactionsTable,
			"removed": res.RowsAffected,
		}).Warn("[migrations] removed duplicated ledger rows")
	}
	return nil
}
