package workflow

import (
	domain "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/domain"
)

var statusRank = map[domain.NomineeStatus]int{
	domain.NomineeStatusPending:     0,
	domain.NomineeStatusInProgress:  1,
	domain.NomineeStatusSubmitted:   2,
	domain.NomineeStatusUnderReview: 3,
	domain.NomineeStatusCompleted:   4,
}

// AdvanceStatus moves the status forward to next; it never moves backwards.
func AdvanceStatus(current, next domain.NomineeStatus) domain.NomineeStatus {
	currentRank, ok := statusRank[current]
	if !ok {
		current, currentRank = domain.NomineeStatusPending, 0
	}
	nextRank, ok := statusRank[next]
	if !ok || nextRank <= currentRank {
		return current
	}
	return next
}
