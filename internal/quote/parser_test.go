package quote

import (
	"testing"
	"time"
)

func TestParseChange(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantNum  float64
		wantPct  float64
	}{
		{
			name:    "negative change",
			input:   "-0.4 (-0.17%)",
			wantNum: -0.4,
			wantPct: -0.17,
		},
		{
			name:    "positive change",
			input:   "1.25 (0.52%)",
			wantNum: 1.25,
			wantPct: 0.52,
		},
		{
			name:    "integer values",
			input:   "3 (2%)",
			wantNum: 3,
			wantPct: 2,
		},
		{
			name:    "extra whitespace",
			input:   "  -2.1  ( -0.9 % ) ",
			wantNum: -2.1,
			wantPct: -0.9,
		},
		{
			name:    "missing percent group",
			input:   "-0.4",
			wantNum: 0,
			wantPct: 0,
		},
		{
			name:    "garbage string",
			input:   "n/a",
			wantNum: 0,
			wantPct: 0,
		},
		{
			name:    "empty string",
			input:   "",
			wantNum: 0,
			wantPct: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			num, pct := ParseChange(tt.input)
			if num != tt.wantNum || pct != tt.wantPct {
				t.Errorf("ParseChange(%q) = (%v, %v), want (%v, %v)",
					tt.input, num, pct, tt.wantNum, tt.wantPct)
			}
		})
	}
}

func TestParse_ContractPrices(t *testing.T) {
	payload := []byte(`{"prices": {"JAN25": {"price": 245.30, "site_rate_change": "-0.4 (-0.17%)"},
		"FEB25": {"price": 247.10, "site_rate_change": "0.8 (0.32%)"}}}`)

	p := NewParser()
	got, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Parse() got %d snapshots, want 2", len(got))
	}

	// Sorted by label: FEB25 first.
	feb := got[0]
	if feb.ContractMonth != "FEB25" {
		t.Errorf("ContractMonth = %q, want FEB25", feb.ContractMonth)
	}

	jan := got[1]
	if jan.ContractMonth != "JAN25" {
		t.Errorf("ContractMonth = %q, want JAN25", jan.ContractMonth)
	}
	if jan.Price == nil || *jan.Price != 245.30 {
		t.Errorf("Price = %v, want 245.30", jan.Price)
	}
	if jan.Delta == nil || *jan.Delta != -0.4 {
		t.Errorf("Delta = %v, want -0.4", jan.Delta)
	}
	if jan.DeltaPercent == nil || *jan.DeltaPercent != -0.17 {
		t.Errorf("DeltaPercent = %v, want -0.17", jan.DeltaPercent)
	}
}

func TestParse_ContractPrices_UnparsableChange(t *testing.T) {
	payload := []byte(`{"prices": {"JAN25": {"price": 245.30, "site_rate_change": "n/a"}}}`)

	p := NewParser()
	got, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Parse() got %d snapshots, want 1", len(got))
	}

	// Upstream noise in the change field must not lose the price.
	snap := got[0]
	if snap.Price == nil || *snap.Price != 245.30 {
		t.Errorf("Price = %v, want 245.30", snap.Price)
	}
	if snap.Delta == nil || *snap.Delta != 0 {
		t.Errorf("Delta = %v, want 0", snap.Delta)
	}
	if snap.DeltaPercent == nil || *snap.DeltaPercent != 0 {
		t.Errorf("DeltaPercent = %v, want 0", snap.DeltaPercent)
	}
}

func TestParse_ContractPrices_MissingPrice(t *testing.T) {
	payload := []byte(`{"prices": {"JAN25": {"site_rate_change": "-0.4 (-0.17%)"}}}`)

	p := NewParser()
	got, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// A missing price stays unknown, not zero.
	if got[0].Price != nil {
		t.Errorf("Price = %v, want nil", *got[0].Price)
	}

	if _, ok := got[0].Normalize("scheduled-poll", time.Now()); ok {
		t.Error("Normalize() accepted a snapshot without a price")
	}
}

func TestParse_FlatSpot(t *testing.T) {
	payload := []byte(`{"spot_price": 232.5, "price_change": -1.2, "change_percentage": -0.51,
		"last_updated": "2025-01-14T10:30:00Z"}`)

	p := NewParser()
	got, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Parse() got %d snapshots, want 1", len(got))
	}

	snap := got[0]
	if snap.Price == nil || *snap.Price != 232.5 {
		t.Errorf("Price = %v, want 232.5", snap.Price)
	}
	if snap.Delta == nil || *snap.Delta != -1.2 {
		t.Errorf("Delta = %v, want -1.2", snap.Delta)
	}
	want := time.Date(2025, 1, 14, 10, 30, 0, 0, time.UTC)
	if !snap.ObservedAt.Equal(want) {
		t.Errorf("ObservedAt = %v, want %v", snap.ObservedAt, want)
	}
}

func TestParse_FlatSpot_ZeroPriceIsData(t *testing.T) {
	payload := []byte(`{"spot_price": 0, "price_change": 0, "change_percentage": 0}`)

	p := NewParser()
	got, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// Zero price is valid domain data, distinct from "no data".
	snap, ok := got[0].Normalize("scheduled-poll", time.Now())
	if !ok {
		t.Fatal("Normalize() rejected an explicit zero price")
	}
	if snap.Price != 0 {
		t.Errorf("Price = %v, want 0", snap.Price)
	}
}

func TestParse_UpdateArray(t *testing.T) {
	payload := []byte(`[{"stockName": "Aluminum Mini", "priceChange": 218.4, "timestamp": "2025-01-14 15:04:05"},
		{"stockName": "Copper", "priceChange": 812.2, "timestamp": ""}]`)

	p := NewParser()
	got, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Parse() got %d snapshots, want 2", len(got))
	}

	if got[0].Instrument != "aluminum-mini" {
		t.Errorf("Instrument = %q, want aluminum-mini", got[0].Instrument)
	}
	if got[0].ObservedAt.IsZero() {
		t.Error("ObservedAt should be parsed from timestamp")
	}
	if !got[1].ObservedAt.IsZero() {
		t.Error("missing timestamp should stay zero until Normalize")
	}
}

func TestParse_AmountMap(t *testing.T) {
	payload := []byte(`{"aluminum": {"amount": 1.4, "sign": "-", "last_updated": "2025-01-14"},
		"zinc": {"amount": 2.1, "sign": "+"}}`)

	p := NewParser()
	got, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Parse() got %d snapshots, want 2", len(got))
	}

	// Sorted by name: aluminum first. Sign applied before use.
	if got[0].Instrument != "aluminum" {
		t.Errorf("Instrument = %q, want aluminum", got[0].Instrument)
	}
	if got[0].Price == nil || *got[0].Price != -1.4 {
		t.Errorf("Price = %v, want -1.4", got[0].Price)
	}
	if got[1].Price == nil || *got[1].Price != 2.1 {
		t.Errorf("Price = %v, want 2.1", got[1].Price)
	}
}

func TestParse_HardFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not JSON", payload: "definitely not json"},
		{name: "empty payload", payload: ""},
		{name: "empty object", payload: "{}"},
		{name: "empty prices map", payload: `{"prices": {}}`},
		{name: "empty array", payload: "[]"},
		{name: "object with unknown fields", payload: `{"foo": 1, "bar": "baz"}`},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse([]byte(tt.payload))
			if err == nil {
				t.Errorf("Parse(%q) expected a hard parse failure", tt.payload)
			}
		})
	}
}

func TestNormalize_Defaults(t *testing.T) {
	price := 245.30
	now := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)

	raw := RawSnapshot{
		Instrument:    "aluminum",
		ContractMonth: "JAN25",
		Price:         &price,
	}

	snap, ok := raw.Normalize("scheduled-poll", now)
	if !ok {
		t.Fatal("Normalize() rejected a valid snapshot")
	}
	if snap.Delta != 0 || snap.DeltaPercent != 0 {
		t.Errorf("missing deltas should default to zero, got (%v, %v)", snap.Delta, snap.DeltaPercent)
	}
	if !snap.ObservedAt.Equal(now) {
		t.Errorf("ObservedAt = %v, want ingestion-time fallback %v", snap.ObservedAt, now)
	}
	if snap.Source != "scheduled-poll" {
		t.Errorf("Source = %q, want scheduled-poll", snap.Source)
	}
	if snap.Key() != "aluminum:JAN25" {
		t.Errorf("Key() = %q, want aluminum:JAN25", snap.Key())
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		zero  bool
	}{
		{name: "RFC3339", input: "2025-01-14T10:30:00Z"},
		{name: "space separated", input: "2025-01-14 10:30:00"},
		{name: "date only", input: "2025-01-14"},
		{name: "epoch seconds", input: "1736850600"},
		{name: "garbage", input: "yesterday-ish", zero: true},
		{name: "empty", input: "", zero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp(tt.input)
			if got.IsZero() != tt.zero {
				t.Errorf("parseTimestamp(%q) = %v, zero-ness want %v", tt.input, got, tt.zero)
			}
		})
	}
}
