package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/core/port"
	"github.com/taskplane/identity-service/internal/infra/config"
)

// ErrIdentityRejected indicates the provider refused the authorization code
// or returned an identity without a stable subject.
var ErrIdentityRejected = errors.New("oauth: identity rejected by provider")

// Verifier exchanges authorization codes with a single configured OAuth2
// provider and resolves the resulting access token to a verified identity.
type Verifier struct {
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewVerifier constructs a Verifier from provider settings.
func NewVerifier(cfg config.OAuthSettings) (*Verifier, error) {
	if cfg.ClientID == "" || cfg.TokenURL == "" {
		return nil, errors.New("oauth: client_id and token_url are required")
	}
	if cfg.UserInfoURL == "" {
		return nil, errors.New("oauth: user_info_url is required")
	}

	return &Verifier{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// AuthCodeURL returns the provider consent URL for the given state.
func (v *Verifier) AuthCodeURL(state string) string {
	return v.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades the authorization code for tokens and fetches the user
// info document. Any provider failure aborts the flow; nothing is persisted
// on this path.
func (v *Verifier) Exchange(ctx context.Context, code string) (*domain.ExternalIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)

	token, err := v.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build user info request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: user info returned %d", ErrIdentityRejected, resp.StatusCode)
	}

	var info struct {
		Sub   string `json:"sub"`
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}

	externalID := info.Sub
	if externalID == "" {
		externalID = info.ID
	}
	if externalID == "" {
		return nil, fmt.Errorf("%w: missing subject identifier", ErrIdentityRejected)
	}

	return &domain.ExternalIdentity{
		ExternalID:  externalID,
		Email:       domain.NormalizeEmail(info.Email),
		DisplayName: info.Name,
	}, nil
}

var _ port.IdentityVerifier = (*Verifier)(nil)
