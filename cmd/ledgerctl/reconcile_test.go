package main

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatementCSV(t *testing.T) {
	csv := "\ufeffTransaction_ID, Amount ,Date,MSISDN,Description\n" +
		"MPESA0001,1048,2024-03-01,0712345678,premium\n" +
		"MPESA0002,\"1,740\",2024-03-02T08:15:00+03:00,,\n" +
		",-30,2024-03-31,,CHARGES MARCH\n"

	lines, err := parseStatementCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, "MPESA0001", lines[0].ExternalReference)
	assert.Equal(t, int64(1048), lines[0].Amount)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), lines[0].ValueDate)
	assert.Equal(t, "0712345678", lines[0].PayerMsisdn)

	assert.Equal(t, int64(1740), lines[1].Amount)
	assert.Equal(t, time.Date(2024, 3, 2, 5, 15, 0, 0, time.UTC), lines[1].ValueDate)

	assert.Empty(t, lines[2].ExternalReference)
	assert.Equal(t, "CHARGES MARCH", lines[2].Narrative)
	assert.Equal(t, int64(-30), lines[2].Amount)
}

func TestParseStatementCSVRejectsBadInput(t *testing.T) {
	for name, input := range map[string]string{
		"empty":          "",
		"no amount":      "reference,date\nX,2024-03-01\n",
		"decimal amount": "reference,amount,date\nX,10.50,2024-03-01\n",
		"bad date":       "reference,amount,date\nX,10,01/03/2024\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseStatementCSV(strings.NewReader(input))
			assert.ErrorIs(t, err, utils.ErrValidation)
		})
	}
}

func TestPreviousMonth(t *testing.T) {
	start, end := previousMonth(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), end)

	start, end = previousMonth(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), end)
}

func TestParsePartnersDefaultsToFeePartners(t *testing.T) {
	list, err := parsePartners(nil)
	require.NoError(t, err)
	assert.Equal(t, feePartners, list)

	list, err = parsePartners([]string{"partner_a", " underwriter "})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = parsePartners([]string{"broker"})
	assert.ErrorIs(t, err, utils.ErrValidation)
}
