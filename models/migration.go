package models

import (
	"log"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	db := config.GetDB()
	if err := AutoMigrate(db); err != nil {
		log.Fatal(err)
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{}, &LedgerSequence{},
		&JournalEntry{}, &JournalEntryLine{},
		&EscrowTracking{}, &EscrowFeeClaim{},
		&PartnerSettlement{}, &SettlementLineItem{}, &SettlementEvent{},
		&ReconciliationRecord{}, &ReconciliationItem{},
		&LedgerEventRecord{}, &LedgerDriftFinding{},
	)
}
