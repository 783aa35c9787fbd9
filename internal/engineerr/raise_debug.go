//go:build !gfrelease

package engineerr

// In debug builds an invariant violation panics immediately, matching
// spec §7's "in debug: panic" recovery policy for FormatMismatch and
// OutOfBounds surfaced outside a single kernel dispatch.
func raise(detail string) error {
	panic(&InvariantViolation{Detail: detail})
}
