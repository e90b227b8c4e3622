package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JournalEntry struct {
	ID             int              `gorm:"primary_key" json:"id"`
	EntryNumber    string           `gorm:"size:32;not null;uniqueIndex:uniq_journal_entries_number" json:"entry_number"`
	SequenceNo     int64            `gorm:"not null" json:"sequence_no"`
	EntryType      JournalEntryType `gorm:"size:40;not null;index" json:"entry_type"`
	Status         JournalStatus    `gorm:"size:16;not null;default:'POSTED'" json:"status"`
	TransactionRef string           `gorm:"size:128;not null;uniqueIndex:uniq_journal_entries_txref" json:"transaction_ref"`
	Description    string           `gorm:"size:255" json:"description"`
	EventDate      time.Time        `gorm:"not null;index" json:"event_date"`
	RateVersion    string           `gorm:"size:16" json:"rate_version"`
	TotalAmount    int64            `gorm:"not null;default:0" json:"total_amount"`
	CreatedBy      string           `gorm:"size:100;not null" json:"created_by"`
	CorrelationId  string           `gorm:"size:64;index" json:"correlation_id"`
	// Posted entries are never edited or deleted; a reversal is a new entry with swapped sides.
	ReversesEntryId   *int               `gorm:"index" json:"reverses_entry_id"`
	ReversedByEntryId *int               `gorm:"index" json:"reversed_by_entry_id"`
	ReversalReason    *string            `gorm:"type:text" json:"reversal_reason"`
	ReversedAt        *time.Time         `json:"reversed_at"`
	Lines             []JournalEntryLine `gorm:"foreignKey:JournalEntryId" json:"lines"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type JournalEntryLine struct {
	ID             int       `gorm:"primary_key" json:"id"`
	JournalEntryId int       `gorm:"not null;index" json:"journal_entry_id"`
	LineNo         int       `gorm:"not null" json:"line_no"`
	AccountCode    string    `gorm:"size:10;not null;index" json:"account_code"`
	Debit          int64     `gorm:"not null;default:0" json:"debit"`
	Credit         int64     `gorm:"not null;default:0" json:"credit"`
	Description    string    `gorm:"size:255" json:"description"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewJournalLine struct {
	AccountCode string `json:"account_code" validate:"required,account_code"`
	Debit       int64  `json:"debit" validate:"gte=0"`
	Credit      int64  `json:"credit" validate:"gte=0"`
	Description string `json:"description" validate:"max=255"`
}

type NewJournalEntry struct {
	EntryType       JournalEntryType `json:"entry_type" validate:"required"`
	TransactionRef  string           `json:"transaction_ref" validate:"required,max=128"`
	Description     string           `json:"description" validate:"max=255"`
	EventDate       time.Time        `json:"event_date"`
	RateVersion     string           `json:"rate_version" validate:"max=16"`
	CreatedBy       string           `json:"created_by" validate:"required,max=100"`
	CorrelationId   string           `json:"correlation_id"`
	Lines           []NewJournalLine `json:"lines" validate:"min=2,dive"`
	ReversesEntryId *int             `json:"-"`
}

// Ledger immutability guardrails:
// - journal_entry_lines are append-only.
// - journal_entries are never deleted; only reversal linkage may be updated.

func (l *JournalEntryLine) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("immutable ledger: journal_entry_lines cannot be updated")
}

func (l *JournalEntryLine) BeforeDelete(tx *gorm.DB) error {
	return errors.New("immutable ledger: journal_entry_lines cannot be deleted")
}

func (j *JournalEntry) BeforeDelete(tx *gorm.DB) error {
	return errors.New("immutable ledger: journal_entries cannot be deleted")
}

func (j *JournalEntry) BeforeUpdate(tx *gorm.DB) error {
	allowed := map[string]bool{
		"ReversedByEntryId": true,
		"ReversalReason":    true,
		"ReversedAt":        true,
		"UpdatedAt":         true,
	}
	if tx == nil || tx.Statement == nil || tx.Statement.Schema == nil {
		return nil
	}
	for _, f := range tx.Statement.Schema.Fields {
		if tx.Statement.Changed(f.Name) && !allowed[f.Name] {
			return errors.New("immutable ledger: only reversal linkage fields may be updated on journal_entries")
		}
	}
	return nil
}

func (j JournalEntry) IsReversed() bool {
	return j.ReversedByEntryId != nil && *j.ReversedByEntryId > 0
}

// Totals returns the debit and credit sums of the loaded lines.
func (j JournalEntry) Totals() (debit int64, credit int64) {
	for _, l := range j.Lines {
		debit += l.Debit
		credit += l.Credit
	}
	return debit, credit
}

// AccountNet is debits minus credits on the given accounts.
func (j JournalEntry) AccountNet(codes ...string) int64 {
	var net int64
	for _, l := range j.Lines {
		for _, c := range codes {
			if l.AccountCode == c {
				net += l.Debit - l.Credit
			}
		}
	}
	return net
}

// validateLines rejects lines carrying both or neither side and unbalanced line sets.
func (input *NewJournalEntry) validateLines() (int64, error) {
	if !input.EntryType.IsValid() {
		return 0, utils.NewValidationError("entry_type", "unknown entry type %q", input.EntryType)
	}
	var debit, credit int64
	for i, l := range input.Lines {
		if (l.Debit > 0) == (l.Credit > 0) {
			return 0, utils.NewValidationError(fmt.Sprintf("lines[%d]", i),
				"exactly one of debit or credit must be a positive amount")
		}
		debit += l.Debit
		credit += l.Credit
	}
	if debit != credit {
		return 0, utils.NewValidationError("lines", "unbalanced entry: debits %d, credits %d", debit, credit)
	}
	return debit, nil
}

// PostJournalEntry appends a balanced entry and moves the running balance of every referenced
// account. It must run inside the caller's transaction; any error aborts the whole posting.
func PostJournalEntry(ctx context.Context, tx *gorm.DB, input NewJournalEntry) (*JournalEntry, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	total, err := input.validateLines()
	if err != nil {
		return nil, err
	}
	tx = tx.WithContext(ctx)

	var existing JournalEntry
	if err := tx.Where("transaction_ref = ?", input.TransactionRef).Limit(1).Find(&existing).Error; err != nil {
		return nil, err
	}
	if existing.ID > 0 {
		return nil, &utils.DuplicatePostingError{TransactionRef: input.TransactionRef, ExistingEntryId: existing.ID}
	}

	deltas := map[string][2]int64{}
	for _, l := range input.Lines {
		d := deltas[l.AccountCode]
		d[0] += l.Debit
		d[1] += l.Credit
		deltas[l.AccountCode] = d
	}
	codes := make([]string, 0, len(deltas))
	for code := range deltas {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	accounts, err := lockAccounts(tx, codes)
	if err != nil {
		return nil, err
	}
	for _, code := range codes {
		account, ok := accounts[code]
		if !ok {
			return nil, utils.NewNotFoundError("account", code)
		}
		if !account.IsActive() {
			return nil, utils.NewValidationError("account_code", "account %s is inactive", code)
		}
	}

	seq, err := NextSequence(tx, SequenceJournalEntry)
	if err != nil {
		return nil, err
	}
	eventDate := input.EventDate
	if eventDate.IsZero() {
		eventDate = time.Now()
	}

	entry := JournalEntry{
		EntryNumber:     FormatNumber("JE", seq),
		SequenceNo:      seq,
		EntryType:       input.EntryType,
		Status:          JournalStatusPosted,
		TransactionRef:  input.TransactionRef,
		Description:     input.Description,
		EventDate:       eventDate.UTC(),
		RateVersion:     input.RateVersion,
		TotalAmount:     total,
		CreatedBy:       input.CreatedBy,
		CorrelationId:   input.CorrelationId,
		ReversesEntryId: input.ReversesEntryId,
	}
	if err := tx.Omit(clause.Associations).Create(&entry).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, &utils.DuplicatePostingError{TransactionRef: input.TransactionRef}
		}
		return nil, err
	}

	lines := make([]JournalEntryLine, 0, len(input.Lines))
	for i, l := range input.Lines {
		lines = append(lines, JournalEntryLine{
			JournalEntryId: entry.ID,
			LineNo:         i + 1,
			AccountCode:    l.AccountCode,
			Debit:          l.Debit,
			Credit:         l.Credit,
			Description:    l.Description,
		})
	}
	if err := tx.Create(&lines).Error; err != nil {
		return nil, err
	}
	entry.Lines = lines

	for _, code := range codes {
		d := deltas[code]
		delta := accounts[code].Delta(d[0], d[1])
		if delta == 0 {
			continue
		}
		if err := tx.Model(&Account{}).
			Where("code = ?", code).
			UpdateColumn("balance", gorm.Expr("balance + ?", delta)).Error; err != nil {
			return nil, err
		}
	}

	if err := EnqueueLedgerEvent(tx, LedgerEventJournalPosted, "journal_entry", entry.ID, entry, entry.CorrelationId); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ReverseJournalEntry posts an offsetting entry with swapped sides and links both entries.
// Reversing an already reversed entry returns the existing reversal.
func ReverseJournalEntry(ctx context.Context, tx *gorm.DB, entryId int, reason string, actorId string) (*JournalEntry, error) {
	if reason == "" {
		return nil, utils.NewValidationError("reason", "is required")
	}
	tx = tx.WithContext(ctx)

	var original JournalEntry
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Lines", orderLines).
		Where("id = ?", entryId).
		First(&original).Error; err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.NewNotFoundError("journal entry", entryId)
		}
		return nil, err
	}
	if original.IsReversed() {
		return GetJournalEntry(ctx, tx, *original.ReversedByEntryId)
	}
	if original.ReversesEntryId != nil {
		return nil, utils.NewValidationError("entry_id", "entry %d is itself a reversal", entryId)
	}

	lines := make([]NewJournalLine, 0, len(original.Lines))
	for _, l := range original.Lines {
		lines = append(lines, NewJournalLine{
			AccountCode: l.AccountCode,
			Debit:       l.Credit,
			Credit:      l.Debit,
			Description: l.Description,
		})
	}
	reversal, err := PostJournalEntry(ctx, tx, NewJournalEntry{
		EntryType:       JournalEntryTypeReversal,
		TransactionRef:  "REV-" + original.TransactionRef,
		Description:     truncate("Reversal of "+original.EntryNumber+": "+reason, 255),
		EventDate:       time.Now().UTC(),
		RateVersion:     original.RateVersion,
		CreatedBy:       actorId,
		CorrelationId:   original.CorrelationId,
		Lines:           lines,
		ReversesEntryId: &original.ID,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reasonCopy := reason
	if err := tx.Model(&JournalEntry{}).
		Where("id = ?", original.ID).
		Updates(map[string]interface{}{
			"reversed_by_entry_id": reversal.ID,
			"reversal_reason":      &reasonCopy,
			"reversed_at":          &now,
		}).Error; err != nil {
		return nil, err
	}
	return reversal, nil
}

func orderLines(db *gorm.DB) *gorm.DB {
	return db.Order("line_no")
}

func GetJournalEntry(ctx context.Context, db *gorm.DB, id int) (*JournalEntry, error) {
	var entry JournalEntry
	if err := db.WithContext(ctx).Preload("Lines", orderLines).Where("id = ?", id).First(&entry).Error; err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.NewNotFoundError("journal entry", id)
		}
		return nil, err
	}
	return &entry, nil
}

func GetJournalEntryByRef(ctx context.Context, db *gorm.DB, transactionRef string) (*JournalEntry, error) {
	var entry JournalEntry
	if err := db.WithContext(ctx).Preload("Lines", orderLines).Where("transaction_ref = ?", transactionRef).First(&entry).Error; err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.NewNotFoundError("journal entry", transactionRef)
		}
		return nil, err
	}
	return &entry, nil
}

type JournalFilter struct {
	From            time.Time
	To              time.Time
	Types           []JournalEntryType
	ExcludeReversed bool
}

// ListJournalEntries returns entries with EventDate in [From, To), lines preloaded.
func ListJournalEntries(ctx context.Context, db *gorm.DB, f JournalFilter) ([]JournalEntry, error) {
	q := db.WithContext(ctx).Preload("Lines", orderLines)
	if !f.From.IsZero() {
		q = q.Where("event_date >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("event_date < ?", f.To.UTC())
	}
	if len(f.Types) > 0 {
		q = q.Where("entry_type IN ?", f.Types)
	}
	if f.ExcludeReversed {
		q = q.Where("reversed_by_entry_id IS NULL AND reverses_entry_id IS NULL")
	}
	var entries []JournalEntry
	err := q.Order("id").Find(&entries).Error
	return entries, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
