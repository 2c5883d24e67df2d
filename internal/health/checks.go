package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/germanfgv/firecrest-v2/internal/clustercfg"
	"github.com/germanfgv/firecrest-v2/internal/scheduler"
	"github.com/germanfgv/firecrest-v2/internal/sshpool"
)

// tokenMinter mints a short-lived access token for the cluster's service
// account via OIDC client-credentials (spec.md §4.5), the non-human
// identity configured alongside the cluster (clustercfg.ServiceAccount).
// Grounded on the teacher's requestCertificate HTTP shape
// (see internal/credential's RemoteProvider), reused here for a token
// instead of key material since no OIDC client library appears anywhere
// in the retrieval pack.
type tokenMinter struct {
	TokenURL   string
	HTTPClient *http.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// minter mints an access token for a service account. *tokenMinter is
// the production implementation; tests substitute a fake.
type minter interface {
	mint(ctx context.Context, account clustercfg.ServiceAccount) (string, error)
}

func (m *tokenMinter) mint(ctx context.Context, account clustercfg.ServiceAccount) (string, error) {
	form := fmt.Sprintf("grant_type=client_credentials&client_id=%s&client_secret=%s", account.ClientID, account.ClientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.TokenURL, bytes.NewBufferString(form))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// SchedulerChecker pings the scheduler adapter with the service
// account's minted token; healthy iff every reported controller is UP
// (spec.md §4.5).
type SchedulerChecker struct {
	Cluster     *clustercfg.Cluster
	Client      scheduler.Client
	TokenMinter minter
}

// NewSchedulerChecker wires a SchedulerChecker with its default token
// minter hitting the cluster's own scheduler REST base URL's token
// endpoint, when configured.
func NewSchedulerChecker(cluster *clustercfg.Cluster, client scheduler.Client, tokenURL string, httpClient *http.Client) *SchedulerChecker {
	return &SchedulerChecker{
		Cluster:     cluster,
		Client:      client,
		TokenMinter: &tokenMinter{TokenURL: tokenURL, HTTPClient: httpClient},
	}
}

func (c *SchedulerChecker) Check(ctx context.Context) []Sample {
	now := time.Now()
	token, err := c.TokenMinter.mint(ctx, c.Cluster.ServiceAccount)
	if err != nil {
		return []Sample{{Type: ServiceScheduler, Healthy: false, Message: "exception: " + err.Error(), CheckedAt: now}}
	}

	result, err := c.Client.Ping(ctx, c.Cluster.ServiceAccount.Username, token)
	if err != nil {
		return []Sample{{Type: ServiceScheduler, Healthy: false, Message: "exception: " + err.Error(), CheckedAt: now}}
	}
	msg := "all controllers up"
	if !result.Healthy() {
		msg = "one or more controllers down"
	}
	return []Sample{{Type: ServiceScheduler, Healthy: result.Healthy(), Message: msg, CheckedAt: now}}
}

// SSHChecker executes "true" through the pool under the service
// account's identity (spec.md §4.5).
type SSHChecker struct {
	Pool    *sshpool.Pool
	Account clustercfg.ServiceAccount
	Timeout time.Duration
}

func (c *SSHChecker) Check(ctx context.Context) []Sample {
	now := time.Now()
	err := c.Pool.WithSession(ctx, c.Account.Username, "", func(ctx context.Context, sess *sshpool.PooledSession) error {
		res, execErr := sshpool.Exec(ctx, sess, "true", nil, c.Timeout, sshpool.DefaultBufferLimit)
		if execErr != nil {
			return execErr
		}
		if res.ExitStatus != 0 {
			return fmt.Errorf("true exited %d", res.ExitStatus)
		}
		return nil
	})
	if err != nil {
		return []Sample{{Type: ServiceSSH, Healthy: false, Message: "exception: " + err.Error(), CheckedAt: now}}
	}
	return []Sample{{Type: ServiceSSH, Healthy: true, Message: "ok", CheckedAt: now}}
}

// FilesystemChecker runs a non-recursive ls on each configured mount
// root, one sample per mount (spec.md §4.5).
type FilesystemChecker struct {
	Pool    *sshpool.Pool
	Account clustercfg.ServiceAccount
	Mounts  []clustercfg.FilesystemMount
	Timeout time.Duration
}

func (c *FilesystemChecker) Check(ctx context.Context) []Sample {
	out := make([]Sample, 0, len(c.Mounts))
	for _, mount := range c.Mounts {
		now := time.Now()
		cmd := fmt.Sprintf("ls -- %s", shQuote(mount.Path))
		err := c.Pool.WithSession(ctx, c.Account.Username, "", func(ctx context.Context, sess *sshpool.PooledSession) error {
			res, execErr := sshpool.Exec(ctx, sess, cmd, nil, c.Timeout, sshpool.DefaultBufferLimit)
			if execErr != nil {
				return execErr
			}
			if res.ExitStatus != 0 {
				return fmt.Errorf("ls exited %d: %s", res.ExitStatus, string(res.Stderr))
			}
			return nil
		})
		if err != nil {
			out = append(out, Sample{Type: ServiceFilesystem, Path: mount.Path, Healthy: false, Message: "exception: " + err.Error(), CheckedAt: now})
			continue
		}
		out = append(out, Sample{Type: ServiceFilesystem, Path: mount.Path, Healthy: true, Message: "ok", CheckedAt: now})
	}
	return out
}

func shQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}

// ObjectStoreChecker lists at most one bucket against the private S3
// endpoint (spec.md §4.5: "list_buckets(MaxBuckets=1)").
type ObjectStoreChecker struct {
	S3 interface {
		ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	}
}

func (c *ObjectStoreChecker) Check(ctx context.Context) []Sample {
	now := time.Now()
	_, err := c.S3.ListBuckets(ctx, &s3.ListBucketsInput{MaxBuckets: aws.Int32(1)})
	if err != nil {
		return []Sample{{Type: ServiceObjectStore, Healthy: false, Message: "exception: " + err.Error(), CheckedAt: now}}
	}
	return []Sample{{Type: ServiceObjectStore, Healthy: true, Message: "ok", CheckedAt: now}}
}
