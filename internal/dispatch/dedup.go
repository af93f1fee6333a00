package dispatch

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Key builds the deduplication key for an invocation event. Result events
// include a 64-bit content hash of the payload so two different results for
// the same tool and state stay distinguishable; all other states key on
// name and state alone.
func Key(inv models.ToolInvocation) string {
	if inv.State == models.ToolStateResult {
		return fmt.Sprintf("%s-%s-%016x", inv.ToolName, inv.State, xxhash.Sum64(inv.Result))
	}
	return inv.ToolName + "-" + string(inv.State)
}

// TurnDeduper tracks which events already dispatched within one conversation
// turn. Callers must Reset it at turn boundaries, otherwise legitimate
// repeats in later turns would be suppressed.
type TurnDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewTurnDeduper creates an empty per-turn seen-set.
func NewTurnDeduper() *TurnDeduper {
	return &TurnDeduper{seen: make(map[string]struct{})}
}

// Seen records the event and reports whether it was already dispatched this
// turn. The first call for a key returns false, repeats return true.
func (d *TurnDeduper) Seen(inv models.ToolInvocation) bool {
	key := Key(inv)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	return false
}

// Reset clears the seen-set for a new turn.
func (d *TurnDeduper) Reset() {
	d.mu.Lock()
	d.seen = make(map[string]struct{})
	d.mu.Unlock()
}
