package models_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/testutil"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func postEntry(t *testing.T, db *gorm.DB, input models.NewJournalEntry) (*models.JournalEntry, error) {
	t.Helper()
	var entry *models.JournalEntry
	err := db.Transaction(func(tx *gorm.DB) error {
		e, err := models.PostJournalEntry(context.Background(), tx, input)
		entry = e
		return err
	})
	return entry, err
}

func receipt(ref string, amount int64) models.NewJournalEntry {
	return models.NewJournalEntry{
		EntryType:      models.JournalEntryTypeDailyPayment,
		TransactionRef: ref,
		EventDate:      time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		CreatedBy:      "test",
		Lines: []models.NewJournalLine{
			{AccountCode: models.AccountEscrowCash, Debit: amount},
			{AccountCode: models.AccountUnderwriterPayable, Credit: amount},
		},
	}
}

func balanceOf(t *testing.T, db *gorm.DB, code string) int64 {
	t.Helper()
	a, err := models.GetAccountByCode(context.Background(), db, code)
	require.NoError(t, err)
	return a.Balance
}

func TestPostJournalEntryMovesBalancesAndNumbersEntries(t *testing.T) {
	db := testutil.NewSQLiteDB(t)

	first, err := postEntry(t, db, receipt("tx-1", 100))
	require.NoError(t, err)
	second, err := postEntry(t, db, receipt("tx-2", 87))
	require.NoError(t, err)

	assert.Equal(t, "JE-00000001", first.EntryNumber)
	assert.Equal(t, "JE-00000002", second.EntryNumber)
	assert.Equal(t, int64(100), first.TotalAmount)
	assert.Equal(t, models.JournalStatusPosted, first.Status)
	require.Len(t, first.Lines, 2)

	assert.Equal(t, int64(187), balanceOf(t, db, models.AccountEscrowCash))
	assert.Equal(t, int64(187), balanceOf(t, db, models.AccountUnderwriterPayable))

	var events int64
	require.NoError(t, db.Model(&models.LedgerEventRecord{}).
		Where("event_name = ?", models.LedgerEventJournalPosted).Count(&events).Error)
	assert.Equal(t, int64(2), events)
}

func TestPostJournalEntryRejectsInvalidLineSets(t *testing.T) {
	db := testutil.NewSQLiteDB(t)

	unbalanced := receipt("tx-unbalanced", 100)
	unbalanced.Lines[1].Credit = 99
	_, err := postEntry(t, db, unbalanced)
	assert.ErrorIs(t, err, utils.ErrValidation)

	bothSides := receipt("tx-both", 100)
	bothSides.Lines = append(bothSides.Lines, models.NewJournalLine{AccountCode: models.AccountPlatformFeePayable, Debit: 1, Credit: 1})
	_, err = postEntry(t, db, bothSides)
	assert.ErrorIs(t, err, utils.ErrValidation)

	single := receipt("tx-single", 100)
	single.Lines = single.Lines[:1]
	_, err = postEntry(t, db, single)
	assert.ErrorIs(t, err, utils.ErrValidation)

	unknown := receipt("tx-unknown", 100)
	unknown.Lines[1].AccountCode = "2999"
	_, err = postEntry(t, db, unknown)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)

	assert.Equal(t, int64(0), balanceOf(t, db, models.AccountEscrowCash))
	var count int64
	require.NoError(t, db.Model(&models.JournalEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPostJournalEntryRejectsInactiveAccount(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	require.NoError(t, models.SetAccountStatus(ctx, db, models.AccountUnderwriterPayable, models.AccountStatusInactive))

	_, err := postEntry(t, db, receipt("tx-inactive", 100))
	var vErr *utils.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "inactive")
	assert.Equal(t, int64(0), balanceOf(t, db, models.AccountEscrowCash))

	require.NoError(t, models.SetAccountStatus(ctx, db, models.AccountUnderwriterPayable, models.AccountStatusActive))
	_, err = postEntry(t, db, receipt("tx-inactive", 100))
	require.NoError(t, err)
}

func TestPostJournalEntryDuplicateReference(t *testing.T) {
	db := testutil.NewSQLiteDB(t)

	first, err := postEntry(t, db, receipt("tx-dup", 100))
	require.NoError(t, err)
	_, err = postEntry(t, db, receipt("tx-dup", 100))

	var dup *utils.DuplicatePostingError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingEntryId)
	assert.Equal(t, int64(100), balanceOf(t, db, models.AccountEscrowCash))
}

func TestPostedEntriesAreImmutable(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	entry, err := postEntry(t, db, receipt("tx-immutable", 100))
	require.NoError(t, err)

	err = db.Model(&models.JournalEntry{ID: entry.ID}).Update("description", "edited").Error
	assert.Error(t, err)

	line := entry.Lines[0]
	line.Debit = 1
	assert.Error(t, db.Save(&line).Error)

	assert.Error(t, db.Delete(&models.JournalEntry{ID: entry.ID}).Error)
	assert.Error(t, db.Delete(&models.JournalEntryLine{ID: line.ID}).Error)

	// The guard plugin still blocks deletes that skip model hooks.
	err = db.Session(&gorm.Session{SkipHooks: true}).Delete(&models.JournalEntryLine{}, line.ID).Error
	assert.ErrorIs(t, err, config.ErrImmutableLedger)

	stored, err := models.GetJournalEntry(context.Background(), db, entry.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 2)
	assert.Equal(t, int64(100), stored.Lines[0].Debit)
}

func TestReverseJournalEntrySwapsSidesAndLinksBothEntries(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	entry, err := postEntry(t, db, receipt("tx-rev", 174))
	require.NoError(t, err)

	var reversal *models.JournalEntry
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		r, err := models.ReverseJournalEntry(ctx, tx, entry.ID, "Posting correction", "ops")
		reversal = r
		return err
	}))

	assert.Equal(t, models.JournalEntryTypeReversal, reversal.EntryType)
	assert.Equal(t, "REV-tx-rev", reversal.TransactionRef)
	require.NotNil(t, reversal.ReversesEntryId)
	assert.Equal(t, entry.ID, *reversal.ReversesEntryId)
	assert.Equal(t, int64(174), reversal.Lines[0].Credit)
	assert.Equal(t, int64(174), reversal.Lines[1].Debit)

	original, err := models.GetJournalEntry(ctx, db, entry.ID)
	require.NoError(t, err)
	assert.True(t, original.IsReversed())
	assert.Equal(t, reversal.ID, *original.ReversedByEntryId)
	assert.Equal(t, "Posting correction", *original.ReversalReason)

	assert.Zero(t, balanceOf(t, db, models.AccountEscrowCash))
	assert.Zero(t, balanceOf(t, db, models.AccountUnderwriterPayable))

	// Reversing twice returns the first reversal.
	var again *models.JournalEntry
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		r, err := models.ReverseJournalEntry(ctx, tx, entry.ID, "Posting correction", "ops")
		again = r
		return err
	}))
	assert.Equal(t, reversal.ID, again.ID)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := models.ReverseJournalEntry(ctx, tx, reversal.ID, "undo", "ops")
		return err
	})
	assert.ErrorIs(t, err, utils.ErrValidation)

	listed, err := models.ListJournalEntries(ctx, db, models.JournalFilter{ExcludeReversed: true})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestNextSequenceIsGapFreePerName(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	for want := int64(1); want <= 3; want++ {
		var got int64
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			n, err := models.NextSequence(tx, models.SequenceSettlement)
			got = n
			return err
		}))
		assert.Equal(t, want, got)
	}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		n, err := models.NextSequence(tx, models.SequenceReconciliation)
		assert.Equal(t, int64(1), n)
		return err
	}))
	assert.Equal(t, "PS-00000042", models.FormatNumber("PS", 42))
}
