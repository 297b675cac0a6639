package repository

import (
	"context"
	"errors"

	"krakendca/src/database"
	"krakendca/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {
	if r.db == nil {
		return errors.New("exception repository: database not initialized")
	}

	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"level":   exc.Level,
		"txid":    exc.TxID,
	}).Debug("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// ListByTxID returns the exceptions recorded for one order id, newest first.
func (r *ExceptionRepository) ListByTxID(ctx context.Context, txid string) ([]model.Exception, error) {
	var out []model.Exception
	if err := r.db.WithContext(ctx).
		Where("tx_id = ?", txid).
		Order("created_at DESC, id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
