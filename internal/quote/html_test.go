package quote

import "testing"

func TestParse_HTMLTable(t *testing.T) {
	payload := []byte(`<html><body>
		<table>
			<tr><th>Contract</th><th>Price</th><th>Change</th></tr>
			<tr><td>JAN25</td><td>245.30</td><td>-0.4 (-0.17%)</td></tr>
			<tr><td>FEB25</td><td>1,247.10</td><td>0.8 (0.32%)</td></tr>
			<tr><td>MAR25</td><td>n/a</td><td></td></tr>
		</table>
	</body></html>`)

	p := NewParser()
	got, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// MAR25 has no parsable price and is dropped.
	if len(got) != 2 {
		t.Fatalf("Parse() got %d snapshots, want 2", len(got))
	}

	jan := got[0]
	if jan.ContractMonth != "JAN25" {
		t.Errorf("ContractMonth = %q, want JAN25", jan.ContractMonth)
	}
	if jan.Price == nil || *jan.Price != 245.30 {
		t.Errorf("Price = %v, want 245.30", jan.Price)
	}
	if jan.Delta == nil || *jan.Delta != -0.4 {
		t.Errorf("Delta = %v, want -0.4", jan.Delta)
	}

	// Thousands separators are stripped.
	feb := got[1]
	if feb.Price == nil || *feb.Price != 1247.10 {
		t.Errorf("Price = %v, want 1247.10", feb.Price)
	}
}

func TestParse_HTMLWithoutTable(t *testing.T) {
	payload := []byte(`<html><body><p>Service temporarily unavailable</p></body></html>`)

	p := NewParser()
	if _, err := p.Parse(payload); err == nil {
		t.Error("Parse() expected a hard parse failure for HTML without a price table")
	}
}
