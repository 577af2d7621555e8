// Package parser converts raw decision-source output into typed operations.
// The payload is untrusted: it may be wrapped in markdown fences or prose,
// carry numbers as strings, or contain malformed entries. Parsing is a total
// transform; a bad instruction is quarantined with a ParseError and the rest
// of the payload proceeds. Only a payload that is not decodable at all fails
// the whole parse.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/ports"
)

const (
	// MinLeverage and MaxLeverage bound what the parser accepts at all;
	// tighter account policy limits are enforced by the validation pipeline.
	MinLeverage = 1
	MaxLeverage = 125
)

var (
	fencedJSON = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	bareJSON   = regexp.MustCompile(`\{[\s\S]*\}|\[[\s\S]*\]`)
)

// rawInstruction mirrors one entry of the decision payload before validation.
type rawInstruction struct {
	Action   string          `json:"action"`
	Asset    string          `json:"asset"`
	Coin     string          `json:"coin"` // Accepted alias for asset
	Quantity json.RawMessage `json:"quantity"`
	Amount   json.RawMessage `json:"amount"`
	Leverage json.RawMessage `json:"leverage"`
	Price    json.RawMessage `json:"price"`
	Reason   string          `json:"reason"`
}

// rawPlan is the top-level payload shape: an object with an actions array
// plus optional commentary, or a bare array of instructions.
type rawPlan struct {
	Analysis string           `json:"analysis"`
	Actions  []rawInstruction `json:"actions"`
}

// Result carries the outcome of parsing one payload.
type Result struct {
	Operations []*domain.Operation
	Errors     []*ports.ParseError
	Analysis   string // Free-form commentary from the payload, if any
}

// Parse decodes a complete decision payload. It returns an error only when
// the payload contains no decodable JSON structure at all.
func Parse(payload []byte) (*Result, error) {
	cleaned := extractJSON(string(payload))
	if cleaned == "" {
		return nil, fmt.Errorf("%w: payload contains no JSON", ports.ErrInvalidRequest)
	}

	var plan rawPlan
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		// Fall back to a bare array of instructions.
		var actions []rawInstruction
		if arrErr := json.Unmarshal([]byte(cleaned), &actions); arrErr != nil {
			return nil, fmt.Errorf("%w: payload is not decodable: %v", ports.ErrInvalidRequest, err)
		}
		plan.Actions = actions
	}

	res := &Result{Analysis: plan.Analysis}
	for i, raw := range plan.Actions {
		op, perr := parseOne(i, raw)
		if perr != nil {
			res.Errors = append(res.Errors, perr)
			continue
		}
		res.Operations = append(res.Operations, op)
	}
	return res, nil
}

// extractJSON strips markdown fences and surrounding prose, returning the
// first JSON object or array found in the text.
func extractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := bareJSON.FindString(text); m != "" {
		return strings.TrimSpace(m)
	}
	return ""
}

func parseOne(idx int, raw rawInstruction) (*domain.Operation, *ports.ParseError) {
	kind := domain.OperationKind(strings.ToUpper(strings.TrimSpace(raw.Action)))
	if !domain.KnownKinds[kind] {
		return nil, &ports.ParseError{Index: idx, Field: "action", Reason: fmt.Sprintf("unknown operation kind %q", raw.Action)}
	}

	op := &domain.Operation{Kind: kind, Reason: raw.Reason}
	if kind == domain.Hold {
		return op, nil
	}

	op.Asset = strings.ToLower(strings.TrimSpace(raw.Asset))
	if op.Asset == "" {
		op.Asset = strings.ToLower(strings.TrimSpace(raw.Coin))
	}
	if op.Asset == "" {
		return nil, &ports.ParseError{Index: idx, Field: "asset", Reason: "asset identifier is required"}
	}

	var perr *ports.ParseError
	switch kind {
	case domain.BuySpot:
		op.Quantity, op.Amount, perr = oneOf(idx, "quantity", raw.Quantity, "amount", raw.Amount)
	case domain.SellSpot:
		op.Quantity, perr = positiveDecimal(idx, "quantity", raw.Quantity, true)
	case domain.OpenLong, domain.OpenShort:
		op.Leverage, perr = leverage(idx, raw.Leverage, true)
		if perr == nil {
			op.Quantity, op.Amount, perr = oneOf(idx, "quantity", raw.Quantity, "amount", raw.Amount)
		}
	case domain.CloseLong, domain.CloseShort:
		// Asset is all that is needed.
	case domain.AddMargin, domain.ReduceMargin:
		op.Amount, perr = positiveDecimal(idx, "amount", raw.Amount, true)
	case domain.IncreaseLeverage, domain.DecreaseLeverage:
		op.Leverage, perr = leverage(idx, raw.Leverage, true)
	case domain.SetStopLoss, domain.SetTakeProfit:
		op.Price, perr = positiveDecimal(idx, "price", raw.Price, true)
	}
	if perr != nil {
		return nil, perr
	}
	return op, nil
}

// oneOf requires exactly one of two positive numeric fields.
func oneOf(idx int, nameA string, rawA json.RawMessage, nameB string, rawB json.RawMessage) (decimal.Decimal, decimal.Decimal, *ports.ParseError) {
	a, errA := positiveDecimal(idx, nameA, rawA, false)
	if errA != nil {
		return decimal.Zero, decimal.Zero, errA
	}
	b, errB := positiveDecimal(idx, nameB, rawB, false)
	if errB != nil {
		return decimal.Zero, decimal.Zero, errB
	}
	switch {
	case a.IsPositive() && b.IsPositive():
		return decimal.Zero, decimal.Zero, &ports.ParseError{Index: idx, Field: nameB, Reason: fmt.Sprintf("%s and %s are mutually exclusive", nameA, nameB)}
	case a.IsPositive():
		return a, decimal.Zero, nil
	case b.IsPositive():
		return decimal.Zero, b, nil
	default:
		return decimal.Zero, decimal.Zero, &ports.ParseError{Index: idx, Field: nameA, Reason: fmt.Sprintf("either %s or %s is required", nameA, nameB)}
	}
}

// positiveDecimal decodes a JSON number or numeric string into a positive
// finite decimal. A missing field is an error only when required.
func positiveDecimal(idx int, field string, raw json.RawMessage, required bool) (decimal.Decimal, *ports.ParseError) {
	if len(raw) == 0 || string(raw) == "null" {
		if required {
			return decimal.Zero, &ports.ParseError{Index: idx, Field: field, Reason: "required field is missing"}
		}
		return decimal.Zero, nil
	}

	text := strings.TrimSpace(string(raw))
	// Unquote numeric strings; decimal handles the rest.
	if len(text) >= 2 && text[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, &ports.ParseError{Index: idx, Field: field, Reason: "not a number"}
		}
		text = strings.TrimSpace(s)
	}
	val, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, &ports.ParseError{Index: idx, Field: field, Reason: fmt.Sprintf("invalid number %q", text)}
	}
	if !val.IsPositive() {
		return decimal.Zero, &ports.ParseError{Index: idx, Field: field, Reason: fmt.Sprintf("must be positive, got %s", val)}
	}
	return val, nil
}

// leverage decodes an integral leverage within the parser-level bounds.
func leverage(idx int, raw json.RawMessage, required bool) (int, *ports.ParseError) {
	val, perr := positiveDecimal(idx, "leverage", raw, required)
	if perr != nil {
		return 0, perr
	}
	if val.IsZero() {
		return 0, nil
	}
	if !val.IsInteger() {
		return 0, &ports.ParseError{Index: idx, Field: "leverage", Reason: fmt.Sprintf("must be an integer, got %s", val)}
	}
	lev := int(val.IntPart())
	if lev < MinLeverage || lev > MaxLeverage {
		return 0, &ports.ParseError{Index: idx, Field: "leverage", Reason: fmt.Sprintf("must be between %d and %d, got %d", MinLeverage, MaxLeverage, lev)}
	}
	return lev, nil
}
