package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiInvestSim/internal/domain"
)

func TestParsePlainPlan(t *testing.T) {
	payload := `{
		"analysis": "accumulating on weakness",
		"actions": [
			{"action": "BUY_SPOT", "asset": "bitcoin", "quantity": 0.5, "reason": "value"},
			{"action": "OPEN_LONG", "asset": "ethereum", "amount": 500, "leverage": 5},
			{"action": "SET_STOP_LOSS", "asset": "ethereum", "price": 2500},
			{"action": "HOLD", "reason": "rest of portfolio unchanged"}
		]
	}`

	res, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Operations, 4)
	assert.Equal(t, "accumulating on weakness", res.Analysis)

	buy := res.Operations[0]
	assert.Equal(t, domain.BuySpot, buy.Kind)
	assert.Equal(t, "bitcoin", buy.Asset)
	assert.True(t, buy.Quantity.Equal(decimal.RequireFromString("0.5")))

	open := res.Operations[1]
	assert.Equal(t, domain.OpenLong, open.Kind)
	assert.Equal(t, 5, open.Leverage)
	assert.True(t, open.Amount.Equal(decimal.NewFromInt(500)))

	sl := res.Operations[2]
	assert.Equal(t, domain.SetStopLoss, sl.Kind)
	assert.True(t, sl.Price.Equal(decimal.NewFromInt(2500)))

	assert.Equal(t, domain.Hold, res.Operations[3].Kind)
}

func TestParseMarkdownFencedPayload(t *testing.T) {
	payload := "Here is my plan:\n```json\n{\"actions\":[{\"action\":\"CLOSE_LONG\",\"coin\":\"solana\",\"reason\":\"target hit\"}]}\n```\nGood luck!"

	res, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.Len(t, res.Operations, 1)
	assert.Equal(t, domain.CloseLong, res.Operations[0].Kind)
	// "coin" is accepted as an alias and normalized.
	assert.Equal(t, "solana", res.Operations[0].Asset)
}

func TestParseQuarantinesBadEntriesAndKeepsGoodOnes(t *testing.T) {
	payload := `{"actions": [
		{"action": "BUY_SPOT", "asset": "bitcoin", "quantity": 1},
		{"action": "BUY_SPOT", "asset": "ethereum", "quantity": -3},
		{"action": "FROB", "asset": "bitcoin"},
		{"action": "OPEN_SHORT", "asset": "solana", "amount": 100, "leverage": 999}
	]}`

	res, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.Len(t, res.Operations, 1, "only the valid BUY_SPOT should survive")
	assert.Equal(t, domain.BuySpot, res.Operations[0].Kind)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.Equal(t, "quantity", res.Errors[0].Field)
	assert.Equal(t, "action", res.Errors[1].Field)
	assert.Equal(t, "leverage", res.Errors[2].Field)
}

func TestParseCoercesNumericStrings(t *testing.T) {
	payload := `{"actions":[{"action":"OPEN_LONG","asset":"bitcoin","quantity":"0.25","leverage":"10"}]}`

	res, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Len(t, res.Operations, 1)
	op := res.Operations[0]
	assert.True(t, op.Quantity.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, 10, op.Leverage)
}

func TestParseRejectsFractionalLeverage(t *testing.T) {
	payload := `{"actions":[{"action":"OPEN_LONG","asset":"bitcoin","amount":100,"leverage":2.5}]}`

	res, err := Parse([]byte(payload))
	require.NoError(t, err)
	assert.Empty(t, res.Operations)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "leverage", res.Errors[0].Field)
}

func TestParseBareArray(t *testing.T) {
	payload := `[{"action":"SELL_SPOT","asset":"bitcoin","quantity":2}]`

	res, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.Len(t, res.Operations, 1)
	assert.Equal(t, domain.SellSpot, res.Operations[0].Kind)
}

func TestParseQuantityAmountExclusive(t *testing.T) {
	payload := `{"actions":[{"action":"BUY_SPOT","asset":"bitcoin","quantity":1,"amount":100}]}`

	res, err := Parse([]byte(payload))
	require.NoError(t, err)
	assert.Empty(t, res.Operations)
	require.Len(t, res.Errors, 1)
}

func TestParseUndecodablePayloadFails(t *testing.T) {
	_, err := Parse([]byte("the model returned nothing useful"))
	assert.Error(t, err)

	_, err = Parse([]byte("{definitely not json]"))
	assert.Error(t, err)
}

func TestParseMissingAsset(t *testing.T) {
	payload := `{"actions":[{"action":"CLOSE_SHORT"}]}`

	res, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "asset", res.Errors[0].Field)
}
