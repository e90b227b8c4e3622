package config

import (
	"errors"

	"gorm.io/gorm"
)

// LedgerGuardPlugin blocks deletes against posted ledger tables even when the
// caller bypasses model hooks (Table(...).Delete, Unscoped, batch deletes).
//
// NOTE: Raw/Exec SQL is not covered. Maintenance scripts must not touch these tables.
type LedgerGuardPlugin struct{}

var ErrImmutableLedger = errors.New("immutable ledger: journal tables cannot be deleted from")

var immutableLedgerTables = map[string]bool{
	"journal_entries":       true,
	"journal_entry_lines":   true,
	"settlement_events":     true,
	"settlement_line_items": true,
}

func NewLedgerGuardPlugin() *LedgerGuardPlugin { return &LedgerGuardPlugin{} }

func (p *LedgerGuardPlugin) Name() string { return "ledger_guard" }

func (p *LedgerGuardPlugin) Initialize(db *gorm.DB) error {
	return db.Callback().Delete().Before("gorm:delete").Register("ledger_guard:delete", ledgerGuardDeleteCallback)
}

func ledgerGuardDeleteCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Error != nil {
		return
	}
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	if immutableLedgerTables[table] {
		_ = db.AddError(ErrImmutableLedger)
	}
}
