package enclave

import (
	"errors"
	"time"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// AuthHeader carries the shared secret that authenticates the public API
// tier to the enclave daemon.
const AuthHeader = "X-Enclave-Auth"

// Wire types of the enclave daemon's internal API, shared by the HTTP
// handler and the client.

type CreateIdentityRequest struct {
	UserID string `json:"user_id"`
}

type IdentityResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Alg       string    `json:"alg"`
	PublicKey string    `json:"public_key"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type SignRequest struct {
	TicketToken string `json:"ticket_token"`
	Digest      string `json:"digest"`
}

type SignResponse struct {
	Signature string `json:"signature"`
}

type RestoreRequest struct {
	PublicKey string `json:"public_key"`
}

type ExportResponse struct {
	Location string `json:"location"`
}

// ErrorResponse is the body of every non-2xx reply. Code is the stable
// machine-readable identifier; Error is for humans and logs.
type ErrorResponse struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// Sentinel errors cross the HTTP boundary as stable codes so the client can
// rehydrate them with errors.Is still working on the far side.
var wireCodes = []struct {
	code string
	err  error
}{
	{"ticket_invalid", interfaces.ErrTicketInvalid},
	{"ticket_expired", interfaces.ErrTicketExpired},
	{"ticket_not_found", interfaces.ErrTicketNotFound},
	{"ticket_already_used", interfaces.ErrTicketAlreadyUsed},
	{"digest_mismatch", interfaces.ErrDigestMismatch},
	{"identity_not_found", interfaces.ErrIdentityNotFound},
	{"identity_destroyed", interfaces.ErrIdentityDestroyed},
	{"public_key_mismatch", interfaces.ErrPublicKeyMismatch},
	{"user_not_found", interfaces.ErrUserNotFound},
	{"export_disabled", interfaces.ErrExportDisabled},
	{"custody_unseal", interfaces.ErrCustodyUnseal},
	{"attestation_untrusted", interfaces.ErrAttestationUntrusted},
	{"backup_not_found", interfaces.ErrBackupNotFound},
}

// ErrorCode returns the wire code for a sentinel error, or "" for errors
// with no stable identity.
func ErrorCode(err error) string {
	for _, wc := range wireCodes {
		if errors.Is(err, wc.err) {
			return wc.code
		}
	}
	return ""
}

// ErrorFromCode returns the sentinel for a wire code, or nil if unknown.
func ErrorFromCode(code string) error {
	for _, wc := range wireCodes {
		if wc.code == code {
			return wc.err
		}
	}
	return nil
}

// NewIdentityResponse converts a stored identity to its wire shape.
func NewIdentityResponse(identity *interfaces.Identity) IdentityResponse {
	return IdentityResponse{
		ID:        identity.ID,
		UserID:    identity.UserID,
		Alg:       string(identity.Alg),
		PublicKey: identity.PublicKeyHex(),
		Status:    string(identity.Status),
		CreatedAt: identity.CreatedAt,
	}
}
