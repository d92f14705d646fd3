package quote

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parseHTML scrapes the contract-month price table out of an upstream quote
// page. One of the feed endpoints intermittently serves the rendered page
// instead of JSON; rows look like: label | price | change.
func (p *Parser) parseHTML(raw []byte) ([]RawSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("invalid HTML: %v", err)}
	}

	var snapshots []RawSnapshot

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return // header or spacer row
		}

		label := strings.TrimSpace(cells.Eq(0).Text())
		priceText := strings.TrimSpace(cells.Eq(1).Text())
		if label == "" || priceText == "" {
			return
		}

		price, err := strconv.ParseFloat(strings.ReplaceAll(priceText, ",", ""), 64)
		if err != nil {
			return
		}

		snap := RawSnapshot{
			ContractMonth: strings.ToUpper(label),
			Price:         &price,
		}

		if cells.Length() >= 3 {
			delta, pct := ParseChange(strings.TrimSpace(cells.Eq(2).Text()))
			snap.Delta = &delta
			snap.DeltaPercent = &pct
		}

		snapshots = append(snapshots, snap)
	})

	if len(snapshots) == 0 {
		return nil, &ParseError{Reason: "no price table rows in HTML payload"}
	}

	return snapshots, nil
}
