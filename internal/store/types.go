package store

import "time"

// Series selects which instrument-family table a quote belongs to. The spot
// and 3-month series are append-only tick histories; the per-contract-month
// series is a latest-for-the-day upsert. The two regimes are deliberately
// separate code paths: unifying them either loses history or blows up
// storage.
type Series string

const (
	SeriesSpot    Series = "spot"
	SeriesFutures Series = "futures"
)

// seriesTables whitelists the table behind each append-only series.
var seriesTables = map[Series]string{
	SeriesSpot:    "spot_quotes",
	SeriesFutures: "futures_quotes",
}

// StoredQuote is one persisted observation.
type StoredQuote struct {
	ID            int64     `json:"id"`
	Instrument    string    `json:"instrument"`
	ContractMonth string    `json:"contract_month,omitempty"`
	Price         float64   `json:"price"`
	Delta         float64   `json:"delta"`
	DeltaPercent  float64   `json:"delta_percent"`
	Source        string    `json:"source"`
	ObservedAt    time.Time `json:"observed_at"`
}
