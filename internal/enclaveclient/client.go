// Package enclaveclient is the API service's HTTP client to the enclave
// service (spec §4.3, §4.4), grounded on the teacher's
// internal/secretstore/client.go: a base-URL-validated client, a shared
// header credential instead of mTLS identity, and a body-size-limited JSON
// decode on every response.
package enclaveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/domain"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxBodySize = 1 << 20 // 1MiB
)

// Config configures the enclave client.
type Config struct {
	BaseURL        string
	InternalAPIKey string
	HTTPClient     *http.Client
	MaxBodyBytes   int64
}

// Client calls the enclave's internal HTTP routes.
type Client struct {
	baseURL        string
	internalAPIKey string
	httpClient     *http.Client
	maxBodyBytes   int64
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("enclaveclient: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("enclaveclient: BaseURL must be a valid URL")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodySize
	}

	return &Client{
		baseURL:        baseURL,
		internalAPIKey: cfg.InternalAPIKey,
		httpClient:     client,
		maxBodyBytes:   maxBodyBytes,
	}, nil
}

func (c *Client) do(ctx context.Context, path string, reqBody, respBody interface{}) error {
	var buf bytes.Buffer
	if reqBody != nil {
		if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
			return apierrors.Internal("failed to encode enclave request", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return apierrors.Internal("failed to build enclave request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-internal-api-key", c.internalAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierrors.Upstream("enclave request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}

	if respBody == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err := dec.Decode(respBody); err != nil {
		return apierrors.Internal("failed to decode enclave response", err)
	}
	return nil
}

// statusError maps the enclave's HTTP status to the shared error taxonomy.
// The enclave's own error envelope shape mirrors httputil.WriteError's, but
// this client only needs the Kind, not the full body, to make restore and
// retry decisions.
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return apierrors.NotFound("enclave: " + msg)
	case http.StatusConflict:
		return apierrors.Conflict("enclave-conflict", "enclave: "+msg)
	case http.StatusUnauthorized:
		return apierrors.Unauthenticated("enclave: " + msg)
	case http.StatusForbidden:
		return apierrors.Forbidden("enclave-forbidden", "enclave: "+msg)
	case http.StatusGone:
		return apierrors.Gone("enclave: " + msg)
	default:
		return apierrors.Upstream(fmt.Sprintf("enclave: unexpected status %d: %s", resp.StatusCode, msg), nil)
	}
}

// IsNotFound reports whether err represents the enclave's not-found
// response, the trigger condition for transparent restore (spec §4.4).
func IsNotFound(err error) bool {
	se, ok := apierrors.As(err)
	return ok && se.Kind == apierrors.KindNotFound
}

type generateRequest struct {
	IdentityID string `json:"identity_id"`
	Alg        string `json:"alg"`
}

type generateResponse struct {
	PublicKey string `json:"public_key"`
}

// Generate calls /internal/generate.
func (c *Client) Generate(ctx context.Context, identityID, alg string) (publicKey string, err error) {
	var resp generateResponse
	if err := c.do(ctx, "/internal/generate", generateRequest{IdentityID: identityID, Alg: alg}, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

type signRequest struct {
	IdentityID string `json:"identity_id"`
	Digest     string `json:"digest"`
	Ticket     string `json:"ticket"`
	Alg        string `json:"alg"`
}

// Sign calls /internal/sign.
func (c *Client) Sign(ctx context.Context, identityID, digest, ticketToken, alg string) (domain.Signature, error) {
	var resp domain.Signature
	err := c.do(ctx, "/internal/sign", signRequest{
		IdentityID: identityID,
		Digest:     digest,
		Ticket:     ticketToken,
		Alg:        alg,
	}, &resp)
	if err != nil {
		return domain.Signature{}, err
	}
	return resp, nil
}

type destroyRequest struct {
	IdentityID string `json:"identity_id"`
}

// Destroy calls /internal/destroy.
func (c *Client) Destroy(ctx context.Context, identityID string) error {
	return c.do(ctx, "/internal/destroy", destroyRequest{IdentityID: identityID}, nil)
}

type exportResponse struct {
	Alg       string `json:"alg"`
	SealedKey string `json:"sealed_key"`
}

// Export calls /internal/backup/export.
func (c *Client) Export(ctx context.Context, identityID string) (alg, sealedKey string, err error) {
	var resp exportResponse
	if err := c.do(ctx, "/internal/backup/export", destroyRequest{IdentityID: identityID}, &resp); err != nil {
		return "", "", err
	}
	return resp.Alg, resp.SealedKey, nil
}

type importRequest struct {
	IdentityID string `json:"identity_id"`
	Alg        string `json:"alg"`
	SealedKey  string `json:"sealed_key"`
}

// Import calls /internal/backup/import.
func (c *Client) Import(ctx context.Context, identityID, alg, sealedKey string) error {
	return c.do(ctx, "/internal/backup/import", importRequest{
		IdentityID: identityID,
		Alg:        alg,
		SealedKey:  sealedKey,
	}, nil)
}
