package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"gorm.io/gorm"
)

type SettlementSummaryRow struct {
	PartnerType    models.PartnerType      `json:"partner_type"`
	SettlementType models.SettlementType   `json:"settlement_type"`
	Status         models.SettlementStatus `json:"status"`
	Settlements    int64                   `json:"settlements"`
	TotalAmount    int64                   `json:"total_amount"`
	Transactions   int64                   `json:"transactions"`
}

// PartnerSettlementSummary groups settlements whose period starts in [from, to).
func PartnerSettlementSummary(ctx context.Context, db *gorm.DB, from, to time.Time) ([]*SettlementSummaryRow, error) {
	var rows []*SettlementSummaryRow
	err := db.WithContext(ctx).
		Model(&models.PartnerSettlement{}).
		Select("partner_type, settlement_type, status, COUNT(*) AS settlements, SUM(total_amount) AS total_amount, SUM(transaction_count) AS transactions").
		Where("period_start >= ? AND period_start < ?", from.UTC(), to.UTC()).
		Group("partner_type, settlement_type, status").
		Order("partner_type, settlement_type, status").
		Scan(&rows).Error
	return rows, err
}

type EscrowPositionRow struct {
	RemittanceStatus models.RemittanceStatus `json:"remittance_status"`
	Kind             models.EscrowKind       `json:"kind"`
	RowCount         int64                   `json:"row_count"`
	Gross            int64                   `json:"gross"`
	Underwriter      int64                   `json:"underwriter"`
	PlatformFee      int64                   `json:"platform_fee"`
	PartnerAFee      int64                   `json:"partner_a_fee"`
	PartnerBFee      int64                   `json:"partner_b_fee"`
}

// EscrowPosition shows how much collected premium is still held versus remitted.
func EscrowPosition(ctx context.Context, db *gorm.DB, from, to time.Time) ([]*EscrowPositionRow, error) {
	var rows []*EscrowPositionRow
	q := models.EscrowFilter{From: from, To: to}.Apply(db.WithContext(ctx).Model(&models.EscrowTracking{}))
	err := q.
		Select(`remittance_status, kind, COUNT(*) AS row_count, SUM(premium_amount) AS gross, SUM(underwriter_amount) AS underwriter,
			SUM(platform_fee) AS platform_fee, SUM(partner_a_fee) AS partner_a_fee, SUM(partner_b_fee) AS partner_b_fee`).
		Group("remittance_status, kind").
		Order("remittance_status, kind").
		Scan(&rows).Error
	return rows, err
}

type ReconciliationSummary struct {
	Run                  *models.ReconciliationRecord `json:"run"`
	MatchedExact         int                          `json:"matched_exact"`
	MatchedFuzzy         int                          `json:"matched_fuzzy"`
	MatchedAmount        int64                        `json:"matched_amount"`
	UnmatchedAmount      int64                        `json:"unmatched_amount"`
	OpenItems            []models.ReconciliationItem  `json:"open_items"`
	MissingFromStatement []string                     `json:"missing_from_statement"`
}

func GetReconciliationSummary(ctx context.Context, db *gorm.DB, runId int) (*ReconciliationSummary, error) {
	run, err := models.GetReconciliation(ctx, db, runId)
	if err != nil {
		return nil, err
	}
	s := &ReconciliationSummary{Run: run, MissingFromStatement: run.MissingFromStatement.Data()}
	for _, it := range run.Items {
		switch it.Status {
		case models.ReconciliationItemMatched:
			s.MatchedAmount += it.Amount
			if it.MatchMethod != nil && *it.MatchMethod == models.MatchMethodFuzzy {
				s.MatchedFuzzy++
			} else {
				s.MatchedExact++
			}
		case models.ReconciliationItemUnmatched:
			s.UnmatchedAmount += it.Amount
			s.OpenItems = append(s.OpenItems, it)
		}
	}
	return s, nil
}
