package orchestrate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// IAMTokenURL is the fixed IBM Cloud identity endpoint used to exchange an
// API key for a short-lived bearer token.
const IAMTokenURL = "https://iam.cloud.ibm.com/identity/token"

const iamGrantType = "urn:ibm:params:oauth:grant-type:apikey"

// TokenSource produces a bearer token for run-related calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// IAMTokenProvider exchanges an IBM Cloud API key for a bearer token. Each
// call performs a fresh exchange; tokens are deliberately not cached, so a
// run submission never starts with a stale credential.
type IAMTokenProvider struct {
	apiKey     string
	tokenURL   string
	httpClient *http.Client
}

type TokenProviderOption func(*IAMTokenProvider)

// WithTokenURL overrides the identity endpoint, mainly for tests.
func WithTokenURL(u string) TokenProviderOption {
	return func(p *IAMTokenProvider) { p.tokenURL = u }
}

func WithTokenHTTPClient(c *http.Client) TokenProviderOption {
	return func(p *IAMTokenProvider) { p.httpClient = c }
}

func NewIAMTokenProvider(apiKey string, opts ...TokenProviderOption) (*IAMTokenProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("API key is required")
	}
	p := &IAMTokenProvider{
		apiKey:     apiKey,
		tokenURL:   IAMTokenURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Token performs a single form-encoded exchange. There is no retry; the
// caller decides whether a failed exchange is worth repeating.
func (p *IAMTokenProvider) Token(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type": {iamGrantType},
		"apikey":     {p.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: errors.Wrap(err, "build token request")}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Err: errors.Wrap(err, "token request failed")}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "read token response")}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().Str("component", "orchestrate").Int("status", resp.StatusCode).Msg("token exchange rejected")
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(body), Err: errors.Wrap(err, "parse token response")}
	}
	if parsed.AccessToken == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(body), Err: errors.New("token response has no access_token")}
	}
	return parsed.AccessToken, nil
}
