package client

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

	goVerify "github.com/MrEthical07/goVerify"
)

// HTTPBackend calls the verifyd HTTP interface. Error bodies are decoded
// into errors that match the goVerify sentinels.
type HTTPBackend struct {
	BaseURL string
	// Bearer is sent as the Authorization token when set. CHANGE_PASSWORD
	// requests need it.
	Bearer     string
	TenantID   string
	HTTPClient *http.Client
}

func (b *HTTPBackend) Issue(ctx context.Context, req goVerify.IssueRequest) (*goVerify.IssueResponse, error) {
	var out goVerify.IssueResponse
	if err := b.post(ctx, "/v1/challenges", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBackend) Resend(ctx context.Context, req goVerify.ResendRequest) (*goVerify.IssueResponse, error) {
	var out goVerify.IssueResponse
	if err := b.post(ctx, "/v1/challenges/resend", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBackend) Verify(ctx context.Context, challengeID, secret string) (*goVerify.VerifyResponse, error) {
	var out goVerify.VerifyResponse
	path := "/v1/challenges/" + url.PathEscape(challengeID) + "/verify"
	if err := b.post(ctx, path, goVerify.VerifyRequest{SubmittedSecret: secret}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBackend) VerifyLink(ctx context.Context, token string) (*goVerify.VerifyResponse, error) {
	var out goVerify.VerifyResponse
	if err := b.post(ctx, "/v1/links/verify", goVerify.LinkVerifyRequest{Token: token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Redeem spends an action token. It is not part of [Backend]; the page that
// performs the protected action calls it after the redirect.
func (b *HTTPBackend) Redeem(ctx context.Context, req goVerify.RedeemRequest) error {
	var out goVerify.RedeemResponse
	if err := b.post(ctx, "/v1/tokens/redeem", req, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("client: redeem not confirmed")
	}
	return nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(b.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+b.Bearer)
	}
	if b.TenantID != "" {
		req.Header.Set("X-Tenant-ID", b.TenantID)
	}

	client := b.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", goVerify.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", goVerify.ErrUnavailable, err)
	}

	if resp.StatusCode >= 300 {
		var er goVerify.ErrorResponse
		if err := json.Unmarshal(data, &er); err != nil || er.Code == "" {
			return fmt.Errorf("client: unexpected status %d", resp.StatusCode)
		}
		return er.Err()
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
