package interfaces

import "errors"

// Error taxonomy. Handlers map these to HTTP statuses; messages are safe to
// surface to callers and never echo key material or internal state.
var (
	// Session and challenge errors.
	ErrSessionInvalid    = errors.New("session invalid")
	ErrSessionExpired    = errors.New("session expired")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")
	// ErrChallengePending signals the caller should keep polling. It is a
	// state, not a failure.
	ErrChallengePending = errors.New("challenge pending confirmation")

	// Ticket errors. ErrTicketAlreadyUsed is an expected steady-state outcome
	// for the loser of a consumption race; replay attempts are still audited.
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrTicketExpired     = errors.New("ticket expired")
	ErrTicketAlreadyUsed = errors.New("ticket already used")
	ErrTicketInvalid     = errors.New("ticket invalid")
	ErrDigestMismatch    = errors.New("digest does not match ticket")

	// Identity errors.
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrIdentityDestroyed = errors.New("identity destroyed")
	ErrPublicKeyMismatch = errors.New("public key mismatch")

	ErrUserNotFound = errors.New("user not found")

	// ErrRateLimitExceeded is an expected steady-state outcome, not a system
	// error.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Custody errors are fatal for the request; they must never degrade to an
	// insecure fallback automatically.
	ErrCustodyUnseal        = errors.New("custody unseal failed")
	ErrAttestationUntrusted = errors.New("attestation not trusted")

	// ErrSignerUnreachable is returned by the enclave client when the signer
	// cannot be reached over the internal channel.
	ErrSignerUnreachable = errors.New("enclave signer unreachable")

	// ErrExportDisabled is returned when the plaintext backup escape hatch is
	// requested but not feature-flagged on.
	ErrExportDisabled = errors.New("key export disabled")

	// ErrInvalidLocationURI is returned when a backup location URI is
	// malformed or its scheme is unsupported.
	ErrInvalidLocationURI = errors.New("invalid backup location URI")

	// ErrBackupNotFound is returned when a named backup blob does not exist.
	ErrBackupNotFound = errors.New("backup not found")
)
