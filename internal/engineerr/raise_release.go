//go:build gfrelease

package engineerr

// In release builds an invariant violation is returned rather than
// panicking, so a host session can close cleanly instead of crashing the
// process — spec §7's "in release: session closed" recovery policy.
func raise(detail string) error {
	return &InvariantViolation{Detail: detail}
}
