package ingest

import "errors"

// Sentinel errors for the per-cycle taxonomy. Calendar blocks and duplicate
// skips are expected outcomes and never surface as errors; these cover the
// recoverable failure classes that abort a cycle.
var (
	// ErrFetch covers timeouts and transport errors against the upstream
	// feed. The cycle aborts; the next scheduled tick retries.
	ErrFetch = errors.New("fetch failed")

	// ErrNoData marks a cycle whose payload could not be parsed at the top
	// level. Nothing is persisted; never partially applied.
	ErrNoData = errors.New("no data this cycle")

	// ErrStore covers persistence failures. Recoverable at the scheduler
	// level: log and retry next cycle.
	ErrStore = errors.New("store error")
)
