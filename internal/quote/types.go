package quote

import (
	"fmt"
	"time"
)

// Snapshot is one normalized price observation at a point in time.
type Snapshot struct {
	Instrument    string    `json:"instrument"`
	ContractMonth string    `json:"contract_month,omitempty"` // e.g. "JAN25"; empty for spot
	Price         float64   `json:"price"`
	Delta         float64   `json:"delta"`
	DeltaPercent  float64   `json:"delta_percent"`
	Source        string    `json:"source"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Key identifies the instrument series a snapshot belongs to.
func (s Snapshot) Key() string {
	if s.ContractMonth == "" {
		return s.Instrument
	}
	return fmt.Sprintf("%s:%s", s.Instrument, s.ContractMonth)
}

// RawSnapshot is a parsed observation before the zero-default policy is
// applied. Numeric fields stay nil when the upstream did not report them:
// a true zero price is valid domain data and must not be confused with
// "no data".
type RawSnapshot struct {
	Instrument    string
	ContractMonth string
	Price         *float64
	Delta         *float64
	DeltaPercent  *float64
	ObservedAt    time.Time // zero when the upstream reported no timestamp
}

// Normalize applies the default policy and produces a storable Snapshot.
// Unknown delta fields default to zero so they never null-propagate into
// arithmetic. An unknown price means the observation carries no data and
// ok is false. A zero observed-at falls back to ingestion time.
func (r RawSnapshot) Normalize(source string, now time.Time) (Snapshot, bool) {
	if r.Price == nil {
		return Snapshot{}, false
	}

	s := Snapshot{
		Instrument:    r.Instrument,
		ContractMonth: r.ContractMonth,
		Price:         *r.Price,
		Source:        source,
		ObservedAt:    r.ObservedAt,
	}
	if r.Delta != nil {
		s.Delta = *r.Delta
	}
	if r.DeltaPercent != nil {
		s.DeltaPercent = *r.DeltaPercent
	}
	if s.ObservedAt.IsZero() {
		s.ObservedAt = now
	}

	return s, true
}

// ContractSlot names a numeric price slot whose bound label rolls over time.
type ContractSlot int

// Slots for the rolling contract series. Which literal month a slot denotes
// changes as contracts roll; readers must resolve the label from the most
// recent snapshot, never from a cached value.
const (
	SlotMonth1 ContractSlot = 1
	SlotMonth2 ContractSlot = 2
	SlotMonth3 ContractSlot = 3
)

func (s ContractSlot) String() string {
	switch s {
	case SlotMonth1:
		return "month1"
	case SlotMonth2:
		return "month2"
	case SlotMonth3:
		return "month3"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}
