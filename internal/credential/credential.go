// Package credential implements the Credential Provider (spec.md §4,
// component table row 1): it produces short-lived SSH key material for a
// (user, access token) pair. Two variants exist: a remote signing
// service reached over HTTP, and a static configuration map for
// clusters that pre-provision per-user keys out of band.
//
// Credential material is owned by the request that fetched it (spec.md
// §3): nothing here persists it, and the SSH pool only ever holds it
// long enough to install it on a freshly dialed connection.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/germanfgv/firecrest-v2/internal/ferrors"
	"golang.org/x/crypto/ssh"
)

// Material is the short-lived SSH key material for one request. It must
// never be persisted and must not outlive the request that fetched it,
// unless the SSH pool decides to keep the resulting session open for
// reuse (spec.md §3).
type Material struct {
	PrivateKeyPEM     []byte
	PublicCertificate []byte // optional, OpenSSH certificate in authorized-key format
	Passphrase        string // optional
}

// Signer parses the material into an ssh.Signer, applying the public
// certificate on top of the key when present.
func (m Material) Signer() (ssh.Signer, error) {
	var signer ssh.Signer
	var err error
	if m.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(m.PrivateKeyPEM, []byte(m.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(m.PrivateKeyPEM)
	}
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CredentialMissing, "parse private key", err)
	}

	if len(m.PublicCertificate) == 0 {
		return signer, nil
	}

	pubKey, _, _, _, err := ssh.ParseAuthorizedKey(m.PublicCertificate)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CredentialMissing, "parse public certificate", err)
	}
	cert, ok := pubKey.(*ssh.Certificate)
	if !ok {
		return nil, ferrors.New(ferrors.CredentialMissing, "public certificate is not an SSH certificate")
	}
	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.CredentialMissing, "build certificate signer", err)
	}
	return certSigner, nil
}

// Provider mints Material for a (username, access token) pair. Key
// minting may itself be slow; callers should apply their own deadline
// (spec.md §5: "key-mint 5 s").
type Provider interface {
	Mint(ctx context.Context, username, accessToken string) (Material, error)
}

// DefaultMintTimeout is the deadline spec.md §5 names for key-mint calls.
const DefaultMintTimeout = 5 * time.Second

// StaticProvider serves pre-provisioned credential material from a
// config-loaded map, for clusters whose sshCredentials section names a
// username -> material map directly instead of a key-service URL
// (spec.md §6).
type StaticProvider struct {
	byUsername map[string]Material
}

// NewStaticProvider builds a StaticProvider from a username->Material map.
func NewStaticProvider(byUsername map[string]Material) *StaticProvider {
	return &StaticProvider{byUsername: byUsername}
}

func (p *StaticProvider) Mint(_ context.Context, username, _ string) (Material, error) {
	m, ok := p.byUsername[username]
	if !ok {
		return Material{}, ferrors.New(ferrors.CredentialMissing, fmt.Sprintf("no static credential configured for user %q", username))
	}
	return m, nil
}

// RemoteProvider requests credential material from a remote signing
// service over HTTP, forwarding the caller's access token as bearer
// authentication. Grounded on the teacher's requestCertificate flow
// (pkg/client/client.go): a short-lived HTTP call that returns PEM key
// material, here reshaped into JSON instead of gRPC (see DESIGN.md).
type RemoteProvider struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewRemoteProvider builds a RemoteProvider. httpClient is expected to be
// the process-wide client held by the ServiceContext (spec.md §5: HTTP
// clients to the key-mint service are process-wide and reused).
func NewRemoteProvider(baseURL string, httpClient *http.Client) *RemoteProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultMintTimeout}
	}
	return &RemoteProvider{BaseURL: baseURL, HTTPClient: httpClient}
}

type mintRequest struct {
	Username string `json:"username"`
}

type mintResponse struct {
	PrivateKey  string `json:"private_key"`
	Certificate string `json:"certificate,omitempty"`
	Passphrase  string `json:"passphrase,omitempty"`
}

func (p *RemoteProvider) Mint(ctx context.Context, username, accessToken string) (Material, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultMintTimeout)
	defer cancel()

	body, err := json.Marshal(mintRequest{Username: username})
	if err != nil {
		return Material{}, ferrors.Wrap(ferrors.Internal, "encode mint request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/keys", bytes.NewReader(body))
	if err != nil {
		return Material{}, ferrors.Wrap(ferrors.Internal, "build mint request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Material{}, ferrors.Wrap(ferrors.Timeout, "key-mint request timed out", err)
		}
		return Material{}, ferrors.Wrap(ferrors.UpstreamUnavailable, "key-mint request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Material{}, ferrors.New(ferrors.UpstreamUnavailable, fmt.Sprintf("key-mint service returned status %d", resp.StatusCode))
	}

	var out mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Material{}, ferrors.Wrap(ferrors.Internal, "decode mint response", err)
	}

	return Material{
		PrivateKeyPEM:     []byte(out.PrivateKey),
		PublicCertificate: []byte(out.Certificate),
		Passphrase:        out.Passphrase,
	}, nil
}
