package auth

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

	"github.com/matheus3301/msgr/internal/token"
)

// HTTPIssuer calls the server's login and refresh endpoints.
type HTTPIssuer struct {
	baseURL     string
	loginPath   string
	refreshPath string
	httpClient  *http.Client
}

// NewHTTPIssuer creates an issuer for the server at baseURL.
func NewHTTPIssuer(baseURL, loginPath, refreshPath string, timeout time.Duration) *HTTPIssuer {
	return &HTTPIssuer{
		baseURL:     strings.TrimRight(baseURL, "/"),
		loginPath:   loginPath,
		refreshPath: refreshPath,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Refresh exchanges a refresh credential for a new pair.
func (i *HTTPIssuer) Refresh(ctx context.Context, refresh string) (token.Pair, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refresh})
	if err != nil {
		return token.Pair{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+i.refreshPath, bytes.NewReader(body))
	if err != nil {
		return token.Pair{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return i.do(req)
}

// Login exchanges a username and password for a pair.
func (i *HTTPIssuer) Login(ctx context.Context, username, password string) (token.Pair, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+i.loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return token.Pair{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return i.do(req)
}

func (i *HTTPIssuer) do(req *http.Request) (token.Pair, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return token.Pair{}, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return token.Pair{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return token.Pair{}, fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return token.Pair{}, fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return token.Pair{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return token.Pair{Access: tr.AccessToken, Refresh: tr.RefreshToken}, nil
}
