package delivery

import "errors"

// Sentinel errors for the delivery service layer.
var (
	// ErrNotFound is returned when no attempt matches the lookup.
	ErrNotFound = errors.New("delivery attempt not found")

	// ErrDuplicateAttempt is returned when creating a second attempt for
	// the same (campaign, contact) pair. At most one attempt exists per
	// contact per campaign.
	ErrDuplicateAttempt = errors.New("delivery attempt already exists for contact")

	// ErrBounceWithoutSend is returned when a bounce event targets an
	// attempt with no sent_at. A message that never went out cannot bounce.
	ErrBounceWithoutSend = errors.New("bounce signal for an attempt that was never sent")

	// ErrUnknownEvent is returned for unrecognized tracking event types.
	ErrUnknownEvent = errors.New("unknown tracking event type")
)
