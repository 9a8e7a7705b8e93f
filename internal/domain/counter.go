package domain

// CounterOutcome classifies a presented WebAuthn signature counter against
// the stored value.
type CounterOutcome int

const (
	// CounterAccepted means new is forward progress from stored (including a
	// legitimate wraparound) and stored should advance to new.
	CounterAccepted CounterOutcome = iota
	// CounterReplay means new equals stored exactly.
	CounterReplay
	// CounterRollback means the forward distance from stored to new is at
	// least half the u32 space (new is behind stored by at most 2^31), too
	// far to be explained as forward progress through wraparound.
	CounterRollback
)

// ClassifyCounter implements the CAS decision for a passkey authenticator
// counter: forward_diff = new.wrapping_sub(stored); a diff past the rollback
// threshold is rejected as rollback even though it is numerically "forward"
// modulo 2^32, since a legitimate authenticator counter does not jump by more
// than 2^31 in one assertion.
func ClassifyCounter(stored, new uint32) CounterOutcome {
	if new == stored {
		return CounterReplay
	}

	forwardDiff := new - stored // wraps modulo 2^32, matching Rust's wrapping_sub
	if forwardDiff >= CounterRollbackThreshold {
		return CounterRollback
	}

	return CounterAccepted
}
