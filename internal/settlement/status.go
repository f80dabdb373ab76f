package settlement

import "strings"

// StatusClass is the gateway-agnostic classification of a raw
// settlement status token.
type StatusClass int

const (
	// StatusTerminalNonPaid covers cancelled, failed, refunded and any
	// unrecognized token. Treated as terminal so the poller never
	// retries a genuinely dead invoice.
	StatusTerminalNonPaid StatusClass = iota
	StatusPaid
	StatusPending
)

func (s StatusClass) String() string {
	switch s {
	case StatusPaid:
		return "paid"
	case StatusPending:
		return "pending"
	default:
		return "terminal_non_paid"
	}
}

// Upstream systems disagree on the exact token per gateway and invoice
// type, so matching is substring containment after upper-casing rather
// than equality.
var (
	paidTokens    = []string{"SUCCEEDED", "SUCCESS", "COMPLETED", "PAID"}
	pendingTokens = []string{"PENDING", "PROCESSING", "AWAITING"}
	// Negated forms that would otherwise substring-match a paid token
	// (UNPAID contains PAID, UNSUCCESSFUL contains SUCCESS). Classifying
	// an unpaid invoice as paid is the one direction never tolerated.
	negatedTokens = []string{"UNPAID", "UNSUCCESS", "NOT_PAID", "NOT PAID"}
)

// Classify maps a raw settlement status to its class. It is invoked
// identically regardless of which gateway produced the redirect.
func Classify(raw string) StatusClass {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if token == "" {
		return StatusTerminalNonPaid
	}
	if !containsAny(token, negatedTokens) {
		for _, t := range paidTokens {
			if strings.Contains(token, t) {
				return StatusPaid
			}
		}
	}
	for _, t := range pendingTokens {
		if strings.Contains(token, t) {
			return StatusPending
		}
	}
	return StatusTerminalNonPaid
}

func containsAny(token string, set []string) bool {
	for _, t := range set {
		if strings.Contains(token, t) {
			return true
		}
	}
	return false
}
