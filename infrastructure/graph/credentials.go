package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"drivesync/domain/contracts"
)

// TokenProvider returns an app-only access token for a tenant.
type TokenProvider interface {
	Token(ctx context.Context, tenantID string) (*oauth2.Token, error)
}

// ClientCredentialsProvider issues tokens with one app registration for every tenant.
// Token sources are cached per tenant and refresh themselves before expiry.
type ClientCredentialsProvider struct {
	clientID     string
	clientSecret string
	authorityURL string
	scopes       []string

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewClientCredentialsProvider builds a provider from the Graph config.
func NewClientCredentialsProvider(cfg Config) *ClientCredentialsProvider {
	cfg = cfg.withDefaults()
	return &ClientCredentialsProvider{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		authorityURL: strings.TrimRight(cfg.AuthorityURL, "/"),
		scopes:       []string{DefaultScope},
		sources:      make(map[string]oauth2.TokenSource),
	}
}

func (p *ClientCredentialsProvider) source(tenantID string) oauth2.TokenSource {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ts, ok := p.sources[tenantID]; ok {
		return ts
	}
	cfg := &clientcredentials.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.authorityURL, tenantID),
		Scopes:       p.scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// The source outlives any single request, so it gets its own context.
	ts := cfg.TokenSource(context.Background())
	p.sources[tenantID] = ts
	return ts
}

// Token returns a cached or freshly issued token. A rejected client maps to ErrUnauthorized.
func (p *ClientCredentialsProvider) Token(_ context.Context, tenantID string) (*oauth2.Token, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("token: tenant id is required")
	}
	tok, err := p.source(tenantID).Token()
	if err != nil {
		return nil, classifyTokenError(tenantID, err)
	}
	return tok, nil
}

// Forget drops the cached source of a tenant, e.g. after uninstall.
func (p *ClientCredentialsProvider) Forget(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sources, tenantID)
}

func classifyTokenError(tenantID string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		switch {
		case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("token for tenant %s: %w: %s", tenantID, contracts.ErrUnauthorized, retrieveErr.ErrorCode)
		case status == http.StatusTooManyRequests || status >= 500:
			return fmt.Errorf("token for tenant %s: %w: status %d", tenantID, contracts.ErrTransient, status)
		}
	}
	return fmt.Errorf("token for tenant %s: %w: %v", tenantID, contracts.ErrTransient, err)
}

// tenantCredential adapts a TokenProvider to the azcore credential used by the Graph SDK.
type tenantCredential struct {
	tenantID string
	tokens   TokenProvider
}

func (c *tenantCredential) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := c.tokens.Token(ctx, c.tenantID)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	expires := tok.Expiry
	if expires.IsZero() {
		expires = time.Now().Add(time.Hour)
	}
	return azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: expires}, nil
}

// StaticTokenProvider returns the same token for every tenant. Used by tests and local tooling.
type StaticTokenProvider struct {
	AccessToken string
}

func (p StaticTokenProvider) Token(context.Context, string) (*oauth2.Token, error) {
	return &oauth2.Token{
		AccessToken: p.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}
