package custody

import (
	"fmt"
	"io"
	"net/http"

	tdx_client "github.com/google/go-tdx-guest/client"
)

// AttestationProvider produces attestation evidence binding 64 bytes of
// report data to the running environment's measurements.
type AttestationProvider interface {
	Attest(reportData [64]byte) ([]byte, error)
}

// DummyAttestationProvider returns empty evidence. For development only; a
// custody store backed by it always reports untrusted.
type DummyAttestationProvider struct{}

func (DummyAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	return []byte{}, nil
}

// RemoteAttestationProvider fetches quotes from a local attestation helper
// over HTTP, for environments where the quote device is not directly
// accessible to this process.
type RemoteAttestationProvider struct {
	Address string
}

func (p *RemoteAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%x", p.Address, reportData[:])
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// DCAPAttestationProvider generates TDX quotes from the guest device. Used
// when the enclave daemon runs inside a TDX VM.
type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, fmt.Errorf("opening TDX device: %w", err)
	}
	return tdx_client.GetRawQuote(qd, reportData)
}
