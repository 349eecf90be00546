package store

import (
	"time"

	"github.com/0xFannie/gmt-pay-dashboard/lib/chain/types"
)

// Snapshot is one aggregated view of all watch targets. Taken marks when the
// aggregation ran, Since the start of the history window it covers. Partial
// snapshots carry the chains whose fetch failed in Failed and the fetch error
// per chain in Errors; their transfers come from the previous snapshot.
type Snapshot struct {
	Taken   time.Time           `json:"taken"`
	Since   time.Time           `json:"since"`
	Partial bool                `json:"partial"`
	Failed  []string            `json:"failed,omitempty"`
	Errors  map[string]string   `json:"errors,omitempty"`
	Txs     []types.Transaction `json:"txs"`
}
