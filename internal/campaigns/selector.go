package campaigns

import "sort"

// Dialable reports whether a queue entry is still eligible for dialing under
// the given retry budget.
//
// Eligible rows are PENDING rows, plus IN_PROGRESS rows that still have
// attempts remaining. Everything else (COMPLETED, SKIPPED, MAX_ATTEMPTS) is
// out of the pool.
func Dialable(c CampaignContact, maxAttempts int) bool {
	switch c.Status {
	case ContactStatusPending:
		return true
	case ContactStatusInProgress:
		return c.Attempts < maxAttempts
	default:
		return false
	}
}

// SelectNext picks the next contact to dial from a candidate slice.
//
// Ordering: highest priority first; ties broken by older created_at, then by
// contact id. The tiebreak is deliberately deterministic so that postgres and
// memory stores agree.
//
// Returns false when no candidate is dialable.
func SelectNext(candidates []CampaignContact, maxAttempts int) (CampaignContact, bool) {
	eligible := make([]CampaignContact, 0, len(candidates))
	for _, c := range candidates {
		if Dialable(c, maxAttempts) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return CampaignContact{}, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ContactID < b.ContactID
	})
	return eligible[0], true
}
