// Package delivery manages DeliveryAttempt records: one row per contact per
// campaign, created when a contact is selected into a batch, marked sent by
// the dispatcher, and updated later by inbound tracking events.
//
// The package enforces the bounce-implies-sent invariant at the service
// layer: a bounce signal for an attempt that never left the outbound
// pipeline is rejected, because such a contact is a send failure (tracked
// in the campaign ledger), not a bounce. Conflating the two was a known
// historical defect; analytics here report them as separate metrics.
package delivery
