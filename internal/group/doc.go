// Package group owns the two-member process group: bootstrap of the
// link between rank 0 (listener) and rank 1 (dialer), the join
// handshake, the collective barrier, and whole-group abort.
//
// Ownership boundary:
// - join control messages
// - framed message read/write with deadlines
// - barrier and abort primitives
// - session reliability and transport security configuration
package group
