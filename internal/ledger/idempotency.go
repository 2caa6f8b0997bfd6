package ledger

import (
	"fmt"
	"regexp"
	"strings"
)

// Client request tokens are restricted to a safe charset so they can embed
// into derived per-line keys. Tokens that fail the pattern are treated as
// absent rather than rejected: the posting still runs, just without replay
// protection.
var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,64}$`)

// NormalizeToken validates a client-supplied request token. Returns nil for
// empty or malformed input.
func NormalizeToken(raw string) *string {
	token := strings.TrimSpace(raw)
	if token == "" || !tokenPattern.MatchString(token) {
		return nil
	}
	return &token
}

// LineKey derives the idempotency key of line n in a batch posting from the
// request-level token.
func LineKey(token string, n int) string {
	return fmt.Sprintf("%s:%d", token, n)
}

// StocktakeApplyKey is the deterministic key for one stocktake line's apply
// posting. Re-invoking apply reuses the same key, which is what makes the
// operation resumable.
func StocktakeApplyKey(stNo string, itemID int64) string {
	return fmt.Sprintf("st:%s:%d", stNo, itemID)
}

// StocktakeRollbackKey is the deterministic key for one stocktake line's
// rollback posting.
func StocktakeRollbackKey(stNo string, itemID int64) string {
	return fmt.Sprintf("strb:%s:%d", stNo, itemID)
}
