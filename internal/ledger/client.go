// Package ledger talks to the settlement ledger's HTTP gateway. It
// implements the daemon's Ledger seam: submit a signed payload, read an
// account balance. Transaction construction and signing happen outside
// the mesh; this client only carries bytes.
package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"meshpaymvp/internal/proto"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("missing ledger url")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bad ledger url: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type submitRequest struct {
	SignedPayload string `json:"signed_payload"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit posts the signed payload and returns the ledger transaction id.
func (c *Client) Submit(ctx context.Context, signedPayload []byte) (string, error) {
	if len(signedPayload) == 0 {
		return "", fmt.Errorf("empty payload")
	}
	body, err := json.Marshal(submitRequest{SignedPayload: hex.EncodeToString(signedPayload)})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("submit: %s: %s", resp.Status, readSnippet(resp.Body))
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("submit: bad response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("submit: response missing id")
	}
	return out.ID, nil
}

type accountResponse struct {
	Balance  string `json:"balance"`
	Sequence int64  `json:"sequence"`
}

// FetchBalance reads an account's balance and ledger sequence.
func (c *Client) FetchBalance(ctx context.Context, accountID string) (int64, int64, error) {
	if accountID == "" {
		return 0, 0, fmt.Errorf("missing account id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/accounts/"+url.PathEscape(accountID), nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch balance: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return 0, 0, fmt.Errorf("fetch balance: %s: %s", resp.Status, readSnippet(resp.Body))
	}
	var out accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("fetch balance: bad response: %w", err)
	}
	bal, err := proto.ParseAmount(out.Balance)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch balance: bad balance %q: %w", out.Balance, err)
	}
	if out.Sequence < 0 {
		return 0, 0, fmt.Errorf("fetch balance: bad sequence %d", out.Sequence)
	}
	return bal, out.Sequence, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
