package workflow

// Standardized reasons for ledger reversals.
// These are human-readable strings stored in JournalEntry.reversal_reason.
const (
	ReversalReasonSettlementCancelled = "Settlement cancelled"
	ReversalReasonPostingCorrection   = "Posting correction"
	ReversalReasonPaymentChargeback   = "Payment charged back by provider"
	ReversalReasonRefundPayoutFailed  = "Refund payout failed"
)
