package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	// ErrNotFound is returned when a campaign does not exist.
	ErrNotFound = errors.New("campaign not found")

	// ErrInvalidTransition is returned when the requested status change has
	// no edge in the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTransitionConflict is returned when the compare-and-swap guard
	// fails: the persisted status no longer matches the expected prior
	// status. Scheduler callers treat this as "another run already handled
	// this campaign" and skip it, not as an error.
	ErrTransitionConflict = errors.New("campaign status changed concurrently")

	// ErrCampaignActive is returned when deleting a campaign that is
	// scheduled or sending; the owner must pause it first.
	ErrCampaignActive = errors.New("campaign is scheduled or sending; pause it before deleting")

	// ErrNoLists is returned when starting a campaign with no audience
	// lists attached.
	ErrNoLists = errors.New("campaign has no contact lists")
)
