// Package campaign implements campaign lifecycle management.
//
// The service layer owns the campaign state machine: which status
// transitions are legal, and the compare-and-swap discipline that keeps two
// concurrent scheduler passes from both advancing the same campaign. It
// depends on the Repository interface defined in this package and should
// never import from api/.
//
// Repository implementations live in repository/postgres/; tests use an
// in-memory implementation.
package campaign
