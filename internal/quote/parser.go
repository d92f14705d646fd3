package quote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseError marks a payload the parser could not make sense of at the top
// level. The scheduler treats it as "no data this cycle"; it is never
// partially applied.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Reason)
}

// Parser normalizes heterogeneous upstream payloads into RawSnapshots.
// The upstream feed returns one of several shapes depending on which
// endpoint and which site revision served the request; all of them must
// land in the same internal type.
type Parser struct{}

// NewParser creates a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

// changeRe captures the two numeric groups of a delimited change field,
// e.g. "-0.4 (-0.17%)".
var changeRe = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*\(\s*(-?\d+(?:\.\d+)?)\s*%\s*\)`)

// ParseChange extracts (delta, deltaPercent) from a "<num> (<num>%)" string.
// Unparsable strings yield (0, 0), never an error: upstream noise must not
// abort ingestion of an otherwise valid price.
func ParseChange(s string) (float64, float64) {
	m := changeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0
	}

	delta, err1 := strconv.ParseFloat(m[1], 64)
	pct, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return 0, 0
	}

	return delta, pct
}

// Parse normalizes a raw upstream payload. Returned snapshots have no
// Instrument set for contract-month shapes; the caller knows which
// instrument it polled and fills it in.
func (p *Parser) Parse(raw []byte) ([]RawSnapshot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &ParseError{Reason: "empty payload"}
	}

	// HTML quote pages are a known upstream fallback shape.
	if trimmed[0] == '<' {
		return p.parseHTML(trimmed)
	}

	switch trimmed[0] {
	case '[':
		return p.parseUpdateArray(trimmed)
	case '{':
		return p.parseObject(trimmed)
	default:
		return nil, &ParseError{Reason: "payload is not JSON or HTML"}
	}
}

// parseObject dispatches on the keys present in a JSON object payload.
func (p *Parser) parseObject(raw []byte) ([]RawSnapshot, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid JSON object: %v", err)}
	}

	if prices, ok := probe["prices"]; ok {
		return p.parseContractPrices(prices)
	}

	if _, ok := probe["spot_price"]; ok {
		return p.parseFlatSpot(raw)
	}

	// Last candidate: a map keyed by instrument name to signed amounts.
	return p.parseAmountMap(probe)
}

// contractEntry is the per-label value of the "prices" map shape.
type contractEntry struct {
	Price          *float64 `json:"price"`
	SiteRateChange string   `json:"site_rate_change"`
}

// parseContractPrices handles {"prices": {"JAN25": {"price": ..., "site_rate_change": "-0.4 (-0.17%)"}}}.
func (p *Parser) parseContractPrices(raw json.RawMessage) ([]RawSnapshot, error) {
	var entries map[string]contractEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid prices map: %v", err)}
	}
	if len(entries) == 0 {
		return nil, &ParseError{Reason: "prices map is empty"}
	}

	// Deterministic order keeps persist transactions and tests stable.
	labels := make([]string, 0, len(entries))
	for label := range entries {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	snapshots := make([]RawSnapshot, 0, len(entries))
	for _, label := range labels {
		entry := entries[label]
		snap := RawSnapshot{
			ContractMonth: strings.ToUpper(strings.TrimSpace(label)),
			Price:         entry.Price,
		}
		if entry.SiteRateChange != "" {
			delta, pct := ParseChange(entry.SiteRateChange)
			snap.Delta = &delta
			snap.DeltaPercent = &pct
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}

// flatSpot is the single-object spot shape.
type flatSpot struct {
	SpotPrice        *float64 `json:"spot_price"`
	PriceChange      *float64 `json:"price_change"`
	ChangePercentage *float64 `json:"change_percentage"`
	LastUpdated      string   `json:"last_updated"`
}

// parseFlatSpot handles {"spot_price": ..., "price_change": ..., "change_percentage": ..., "last_updated": ...}.
func (p *Parser) parseFlatSpot(raw []byte) ([]RawSnapshot, error) {
	var body flatSpot
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid spot object: %v", err)}
	}

	snap := RawSnapshot{
		Price:        body.SpotPrice,
		Delta:        body.PriceChange,
		DeltaPercent: body.ChangePercentage,
		ObservedAt:   parseTimestamp(body.LastUpdated),
	}

	return []RawSnapshot{snap}, nil
}

// updateEntry is the company-update array element shape.
type updateEntry struct {
	StockName   string   `json:"stockName"`
	PriceChange *float64 `json:"priceChange"`
	Timestamp   string   `json:"timestamp"`
}

// parseUpdateArray handles [{"stockName": ..., "priceChange": ..., "timestamp": ...}].
func (p *Parser) parseUpdateArray(raw []byte) ([]RawSnapshot, error) {
	var entries []updateEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid update array: %v", err)}
	}
	if len(entries) == 0 {
		return nil, &ParseError{Reason: "update array is empty"}
	}

	snapshots := make([]RawSnapshot, 0, len(entries))
	for _, entry := range entries {
		if entry.StockName == "" {
			continue
		}
		snapshots = append(snapshots, RawSnapshot{
			Instrument: normalizeInstrument(entry.StockName),
			Price:      entry.PriceChange,
			ObservedAt: parseTimestamp(entry.Timestamp),
		})
	}

	if len(snapshots) == 0 {
		return nil, &ParseError{Reason: "update array has no usable entries"}
	}

	return snapshots, nil
}

// amountEntry is the signed-amount map value shape.
type amountEntry struct {
	Amount      *float64 `json:"amount"`
	Sign        string   `json:"sign"`
	LastUpdated string   `json:"last_updated"`
}

// parseAmountMap handles {"aluminum": {"amount": 1.2, "sign": "-", "last_updated": ...}}.
// The sign field must be applied to the amount before use.
func (p *Parser) parseAmountMap(probe map[string]json.RawMessage) ([]RawSnapshot, error) {
	names := make([]string, 0, len(probe))
	for name := range probe {
		names = append(names, name)
	}
	sort.Strings(names)

	var snapshots []RawSnapshot
	for _, name := range names {
		var entry amountEntry
		if err := json.Unmarshal(probe[name], &entry); err != nil {
			continue
		}
		if entry.Amount == nil {
			continue
		}

		amount := *entry.Amount
		if entry.Sign == "-" {
			amount = -amount
		}

		snapshots = append(snapshots, RawSnapshot{
			Instrument: normalizeInstrument(name),
			Price:      &amount,
			ObservedAt: parseTimestamp(entry.LastUpdated),
		})
	}

	if len(snapshots) == 0 {
		return nil, &ParseError{Reason: "no recognized fields in payload"}
	}

	return snapshots, nil
}

// timestampLayouts are the formats observed across upstream endpoints.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02-01-2006 15:04",
}

// parseTimestamp tries the known upstream formats. An unparsable or empty
// string yields the zero time; Normalize substitutes ingestion time.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	// Epoch seconds show up on one of the endpoints.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}

	return time.Time{}
}

// normalizeInstrument lowercases and collapses whitespace in upstream names.
func normalizeInstrument(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "-"))
}
