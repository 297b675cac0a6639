package model

import "time"

// Exception is a failure persisted for auditing. Reconciliation failures are scoped to
// one order id, so the id and symbol are first-class columns.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "reconciler"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "kraken"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "QueryOrder"

	Symbol string `gorm:"size:32;index" json:"symbol,omitempty"`
	TxID   string `gorm:"size:64;index" json:"txid,omitempty"`

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // warn | error

	// Extra context stored as JSON text
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
