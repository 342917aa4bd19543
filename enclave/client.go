package enclave

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tiero/claw-cash-sub001/interfaces"
)

// Client talks to the enclave daemon's internal API over the shared-secret
// channel. It implements interfaces.Enclave so the public API tier is
// indifferent to whether the signer is in-process or remote.
type Client struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewClient creates an enclave client for the daemon at baseURL.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateIdentity asks the enclave to generate and seal a new keypair.
func (c *Client) CreateIdentity(ctx context.Context, userID string) (*interfaces.Identity, error) {
	var resp IdentityResponse
	err := c.do(ctx, http.MethodPost, "/internal/identities", CreateIdentityRequest{UserID: userID}, &resp)
	if err != nil {
		return nil, err
	}

	publicKey, err := hex.DecodeString(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key in enclave response: %w", err)
	}

	return &interfaces.Identity{
		ID:        resp.ID,
		UserID:    resp.UserID,
		Alg:       interfaces.KeyAlgorithm(resp.Alg),
		PublicKey: publicKey,
		Status:    interfaces.IdentityStatus(resp.Status),
		CreatedAt: resp.CreatedAt,
	}, nil
}

// Sign submits a ticket token and digest for signing.
func (c *Client) Sign(ctx context.Context, ticketToken string, digest []byte) ([]byte, error) {
	var resp SignResponse
	err := c.do(ctx, http.MethodPost, "/internal/sign", SignRequest{
		TicketToken: ticketToken,
		Digest:      hex.EncodeToString(digest),
	}, &resp)
	if err != nil {
		return nil, err
	}

	signature, err := hex.DecodeString(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature in enclave response: %w", err)
	}
	return signature, nil
}

// Destroy marks the identity destroyed and discards its sealed key.
func (c *Client) Destroy(ctx context.Context, identityID string) error {
	return c.do(ctx, http.MethodPost, "/internal/identities/"+identityID+"/destroy", nil, nil)
}

// Restore checks the identity's sealed key against the supplied public key.
func (c *Client) Restore(ctx context.Context, identityID string, publicKey []byte) error {
	return c.do(ctx, http.MethodPost, "/internal/identities/"+identityID+"/restore", RestoreRequest{
		PublicKey: hex.EncodeToString(publicKey),
	}, nil)
}

// AttestationStatus reports the enclave's attestation state.
func (c *Client) AttestationStatus(ctx context.Context) (interfaces.AttestationStatus, error) {
	var status interfaces.AttestationStatus
	if err := c.do(ctx, http.MethodGet, "/internal/attestation", nil, &status); err != nil {
		return interfaces.AttestationStatus{}, err
	}
	return status, nil
}

// do sends one request and decodes the reply. Transport-level failures map
// to ErrSignerUnreachable; application failures are rehydrated from the
// error code in the response body.
func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set(AuthHeader, c.secret)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrSignerUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", interfaces.ErrSignerUnreachable, err)
	}

	if resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if json.Unmarshal(raw, &errResp) == nil {
			if sentinel := ErrorFromCode(errResp.Code); sentinel != nil {
				return sentinel
			}
			if errResp.Error != "" {
				return fmt.Errorf("enclave returned %d: %s", resp.StatusCode, errResp.Error)
			}
		}
		return fmt.Errorf("enclave returned %d: %s", resp.StatusCode, string(raw))
	}

	if respBody != nil {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("could not parse enclave response: %w", err)
		}
	}
	return nil
}
