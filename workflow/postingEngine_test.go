package workflow_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"bitbucket.org/mmdatafocus/premium_ledger/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type line struct {
	code          string
	debit, credit int64
}

func linesOf(lines []models.NewJournalLine) []line {
	out := make([]line, 0, len(lines))
	for _, l := range lines {
		out = append(out, line{l.AccountCode, l.Debit, l.Credit})
	}
	return out
}

func v1Rates(t *testing.T) *config.RateTable {
	t.Helper()
	rates, ok := config.DefaultRateBook().Version("v1")
	require.True(t, ok)
	return rates
}

func TestBuildAllocationInitialDeposit(t *testing.T) {
	alloc, err := workflow.BuildAllocation(v1Rates(t), workflow.PostingRequest{
		EventType:     models.JournalEntryTypeInitialDeposit,
		TransactionId: "dep-1",
		Amount:        1048,
	})
	require.NoError(t, err)

	assert.Equal(t, []line{
		{models.AccountEscrowCash, 1048, 0},
		{models.AccountUnderwriterPayable, 0, 1045},
		{models.AccountPlatformFeePayable, 0, 1},
		{models.AccountPartnerAFeePayable, 0, 1},
		{models.AccountPartnerBFeePayable, 0, 1},
	}, linesOf(alloc.Lines))
	assert.Equal(t, "v1", alloc.RateVersion)
	assert.Equal(t, workflow.EscrowSplit{Gross: 1048, Underwriter: 1045, Platform: 1, PartnerA: 1, PartnerB: 1, DayCount: 1}, alloc.Escrow)
}

func TestBuildAllocationMultiDayPaymentIsProportional(t *testing.T) {
	alloc, err := workflow.BuildAllocation(v1Rates(t), workflow.PostingRequest{
		EventType:     models.JournalEntryTypeDailyPayment,
		TransactionId: "pay-3",
		Amount:        261,
		DayCount:      3,
	})
	require.NoError(t, err)

	assert.Equal(t, []line{
		{models.AccountEscrowCash, 261, 0},
		{models.AccountUnderwriterPayable, 0, 252},
		{models.AccountPlatformFeePayable, 0, 3},
		{models.AccountPartnerAFeePayable, 0, 3},
		{models.AccountPartnerBFeePayable, 0, 3},
	}, linesOf(alloc.Lines))
}

func TestBuildAllocationRefundSplitsCancellationFee(t *testing.T) {
	alloc, err := workflow.BuildAllocation(v1Rates(t), workflow.PostingRequest{
		EventType:     models.JournalEntryTypeRefundInitiation,
		TransactionId: "refund-1",
		Amount:        870,
		DayCount:      10,
	})
	require.NoError(t, err)

	assert.Equal(t, []line{
		{models.AccountUnderwriterPayable, 840, 0},
		{models.AccountPlatformFeePayable, 10, 0},
		{models.AccountPartnerAFeePayable, 10, 0},
		{models.AccountPartnerBFeePayable, 10, 0},
		{models.AccountRiderRefundPayable, 0, 783},
		{models.AccountCancellationFeeIncome, 0, 61},
		{models.AccountPartnerAFeePayable, 0, 13},
		{models.AccountPartnerBFeePayable, 0, 13},
	}, linesOf(alloc.Lines))
	assert.Equal(t, int64(87), alloc.Fee)
	assert.Equal(t, workflow.EscrowSplit{Gross: -870, Underwriter: -840, Platform: -10, PartnerA: 3, PartnerB: 3, DayCount: -10}, alloc.Escrow)
}

func TestSplitCancellationFeePlatformAbsorbsRounding(t *testing.T) {
	split := workflow.SplitCancellationFee(v1Rates(t), 870)
	assert.Equal(t, workflow.CancellationSplit{Fee: 87, Platform: 61, PartnerA: 13, PartnerB: 13}, split)
	assert.Equal(t, split.Fee, split.Platform+split.PartnerA+split.PartnerB)
}

func TestBuildAllocationRejectsBadRequests(t *testing.T) {
	rates := v1Rates(t)
	cases := map[string]workflow.PostingRequest{
		"amount is not unit price x days": {EventType: models.JournalEntryTypeDailyPayment, TransactionId: "x", Amount: 88, DayCount: 1},
		"daily payment without days":      {EventType: models.JournalEntryTypeDailyPayment, TransactionId: "x", Amount: 87},
		"deposit covering several days":   {EventType: models.JournalEntryTypeInitialDeposit, TransactionId: "x", Amount: 1048, DayCount: 2},
		"reversal has no table":           {EventType: models.JournalEntryTypeReversal, TransactionId: "x", Amount: 87, DayCount: 1},
		"zero amount":                     {EventType: models.JournalEntryTypeRefundPayout, TransactionId: "x"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := workflow.BuildAllocation(rates, req)
			assert.ErrorIs(t, err, utils.ErrValidation)
		})
	}
}

func TestPostEventPostsBalancedEntryAndMovesBalances(t *testing.T) {
	f := newFixture(t)

	entry, err := f.engine.PostEvent(f.ctx, workflow.PostingRequest{
		EventType:     models.JournalEntryTypeDailyPayment,
		TransactionId: "pay-1",
		Amount:        87,
		DayCount:      1,
		EventDate:     march(5),
		ActorId:       "payments",
	})
	require.NoError(t, err)

	debit, credit := entry.Totals()
	assert.Equal(t, debit, credit)
	assert.Equal(t, int64(87), entry.TotalAmount)
	assert.Equal(t, "v1", entry.RateVersion)
	assert.Equal(t, "payments", entry.CreatedBy)
	assert.Equal(t, int64(87), f.balance(t, models.AccountEscrowCash))
	assert.Equal(t, int64(84), f.balance(t, models.AccountUnderwriterPayable))
	assert.Equal(t, int64(1), f.balance(t, models.AccountPartnerAFeePayable))
}

func TestPostEventIsIdempotentPerTransactionId(t *testing.T) {
	f := newFixture(t)
	req := workflow.PostingRequest{
		EventType:     models.JournalEntryTypeDailyPayment,
		TransactionId: "pay-dup",
		Amount:        87,
		DayCount:      1,
		EventDate:     march(5),
	}

	first, err := f.engine.PostEvent(f.ctx, req)
	require.NoError(t, err)
	again, err := f.engine.PostEvent(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// A replay with different money still returns the first posting.
	req.Amount, req.DayCount = 174, 2
	mismatch, err := f.engine.PostEvent(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, mismatch.ID)
	assert.Equal(t, int64(87), mismatch.TotalAmount)

	assert.Equal(t, int64(87), f.balance(t, models.AccountEscrowCash))
	assert.Equal(t, int64(1), f.count(t, &models.JournalEntry{}, ""))
}

func TestPostEventReplayWithInvalidAmountReturnsFirstEntry(t *testing.T) {
	f := newFixture(t)
	req := workflow.PostingRequest{
		EventType:     models.JournalEntryTypeDailyPayment,
		TransactionId: "pay-odd",
		Amount:        174,
		DayCount:      2,
		EventDate:     march(5),
	}
	first, err := f.engine.PostEvent(f.ctx, req)
	require.NoError(t, err)

	// 175 is not a multiple of the daily price; a fresh posting would be rejected.
	req.Amount = 175
	again, err := f.engine.PostEvent(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(174), again.TotalAmount)
	assert.Equal(t, int64(1), f.count(t, &models.JournalEntry{}, ""))
}

func TestPostEventRejectsWithoutWriting(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.PostEvent(f.ctx, workflow.PostingRequest{
		EventType:     models.JournalEntryTypeDailyPayment,
		TransactionId: "pay-wrong",
		Amount:        90,
		DayCount:      1,
		EventDate:     march(5),
	})
	assert.ErrorIs(t, err, utils.ErrValidation)

	_, err = f.engine.PostEvent(f.ctx, workflow.PostingRequest{
		EventType:     models.JournalEntryTypeReversal,
		TransactionId: "rev-direct",
		Amount:        87,
		DayCount:      1,
	})
	assert.ErrorIs(t, err, utils.ErrValidation)

	_, err = f.engine.PostEvent(f.ctx, workflow.PostingRequest{EventType: "BONUS", TransactionId: "b", Amount: 1})
	assert.ErrorIs(t, err, utils.ErrValidation)

	assert.Zero(t, f.count(t, &models.JournalEntry{}, ""))
	assert.Zero(t, f.balance(t, models.AccountEscrowCash))
}

func TestReverseEntryRestoresBalances(t *testing.T) {
	f := newFixture(t)
	entry, err := f.engine.PostEvent(f.ctx, workflow.PostingRequest{
		EventType:     models.JournalEntryTypeInitialDeposit,
		TransactionId: "dep-rev",
		Amount:        1048,
		EventDate:     march(1),
	})
	require.NoError(t, err)

	reversal, err := f.engine.ReverseEntry(f.ctx, entry.ID, workflow.ReversalReasonPaymentChargeback, "ops")
	require.NoError(t, err)
	assert.Equal(t, models.JournalEntryTypeReversal, reversal.EntryType)

	for _, code := range []string{
		models.AccountEscrowCash, models.AccountUnderwriterPayable, models.AccountPlatformFeePayable,
		models.AccountPartnerAFeePayable, models.AccountPartnerBFeePayable,
	} {
		assert.Zero(t, f.balance(t, code), code)
	}

	_, err = f.engine.ReverseEntry(f.ctx, 9999, "missing", "ops")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}
