package repository

import (
	"context"
	"errors"
	"fmt"

	"krakendca/src/database"
	"krakendca/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettlementRepository writes closed legs into the transactions table. A leg is
// identified by (exchange, id); writing it again changes nothing.
type SettlementRepository struct {
	db *gorm.DB
}

func NewSettlementRepository() *SettlementRepository {
	return &SettlementRepository{
		db: database.MainDB,
	}
}

// WithDB returns a repository bound to db. Used by tests and by callers that open their
// own connection.
func (r *SettlementRepository) WithDB(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// Record inserts s unless a row with the same (exchange, id) exists. recorded is true
// only when a new row was written.
func (r *SettlementRepository) Record(ctx context.Context, s model.Settlement) (bool, error) {
	if r.db == nil {
		return false, errors.New("settlement repository: database not initialized")
	}
	if s.Exchange == "" || s.ID == "" {
		return false, fmt.Errorf("settlement repository: exchange and id are required (exchange=%q id=%q)", s.Exchange, s.ID)
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "exchange"}, {Name: "id"}},
			DoNothing: true,
		}).
		Create(&s)
	if res.Error != nil {
		return false, fmt.Errorf("insert settlement %s: %w", s.ID, res.Error)
	}

	recorded := res.RowsAffected > 0
	logger.WithFields(map[string]interface{}{
		"exchange": s.Exchange,
		"symbol":   s.Symbol,
		"txid":     s.ID,
		"side":     s.Side,
		"recorded": recorded,
	}).Debug("settlement repository - record")

	return recorded, nil
}

// FindByExchangeID returns the leg or gorm.ErrRecordNotFound.
func (r *SettlementRepository) FindByExchangeID(ctx context.Context, exchange, id string) (*model.Settlement, error) {
	var s model.Settlement
	if err := r.db.WithContext(ctx).
		Where("exchange = ? AND id = ?", exchange, id).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListBySymbol returns the legs of one instrument, oldest first.
func (r *SettlementRepository) ListBySymbol(ctx context.Context, symbol string) ([]model.Settlement, error) {
	var out []model.Settlement
	if err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("tstamp ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RoundTrips joins every buy of symbol with the sells whose reference equals the buy's
// userref, oldest sell first. Buys still waiting for their sell are left out.
func (r *SettlementRepository) RoundTrips(ctx context.Context, symbol string) ([]model.RoundTrip, error) {
	if r.db == nil {
		return nil, errors.New("settlement repository: database not initialized")
	}

	var out []model.RoundTrip
	err := r.db.WithContext(ctx).
		Table("transactions AS b").
		Select(`b.symbol AS symbol, b.user_ref AS reference,
			b.id AS buy_id, b.tstamp AS buy_tstamp, b.price AS buy_price, b.volume AS buy_volume, b.fees AS buy_fees,
			s.id AS sell_id, s.tstamp AS sell_tstamp, s.price AS sell_price, s.volume AS sell_volume, s.fees AS sell_fees`).
		Joins(`JOIN transactions AS s ON s.exchange = b.exchange AND s.symbol = b.symbol AND s.reference = b.user_ref AND s.side = ?`, "Sell").
		Where("b.side = ? AND b.symbol = ?", "Buy", symbol).
		Order("s.tstamp ASC, s.id ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("round trips %s: %w", symbol, err)
	}
	return out, nil
}
