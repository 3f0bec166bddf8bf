// Package api
// Author: momentics@gmail.com
//
// Slot-reservation ring contract for zero-copy producer/consumer hand-off.

package api

// EventID identifies a ring slot handed out by a reservation. Valid ids are
// in [0, RingCapacity).
type EventID = int

// RingCapacity is the fixed slot count of every reservation ring. The
// modulus is tied to an 8-bit index width: all index arithmetic is mod 256.
const RingCapacity = 256

// RingState is a point-in-time sample of a reservation ring, taken under the
// queue guard. Gate state is carried by explicit booleans; probing lock
// state is not part of the contract.
type RingState struct {
	ReservedHead uint32
	Head         uint32
	Tail         uint32
	ReservedTail uint32

	// Length is the committed-but-undispatched span (Tail-Head on the ring);
	// ReservedLength is the full outstanding span (ReservedTail-ReservedHead).
	Length         int
	ReservedLength int

	// FullGateClosed / EmptyGateClosed report whether producers/consumers
	// are currently parked on the corresponding gate.
	FullGateClosed  bool
	EmptyGateClosed bool
	FullWaiters     int
	EmptyWaiters    int
}

// Idle reports whether the ring has no outstanding or committed slots.
func (s RingState) Idle() bool {
	return s.Length == 0 && s.ReservedLength == 0 &&
		s.ReservedHead == s.Head && s.Head == s.Tail && s.Tail == s.ReservedTail
}
