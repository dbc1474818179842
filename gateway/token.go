package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/core"
)

// tokenResponse mirrors POST /auth/v1/token's {dmaToken, expire} body,
// expire being an epoch-millisecond expiry.
type tokenResponse struct {
	Token  string `json:"dmaToken"`
	Expire int64  `json:"expire"`
}

// resolveToken returns a cached, non-expired bearer token, refreshing
// it via the auth endpoint on miss or expiry. A non-401 failure from
// the token endpoint is a configuration error, never retried.
func (g *Gateway) resolveToken(ctx context.Context) (string, error) {
	g.tokenMu.Lock()
	if g.token != "" && time.Now().Before(g.expiry) {
		token := g.token
		g.tokenMu.Unlock()
		return token, nil
	}
	g.tokenMu.Unlock()

	form := url.Values{
		"grant_type":    {"api_key"},
		"client_id":     {g.clientID},
		"client_secret": {g.clientSecret},
	}

	resp, err := postForm(ctx, g.httpClient, g.baseURL+"/auth/v1/token", form)
	if err != nil {
		return "", core.NewOpError("gateway.resolveToken", "config", core.ErrAuthenticationFailed)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		return "", core.NewOpError("gateway.resolveToken", "config", core.ErrAuthenticationFailed)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Token == "" {
		return "", core.NewOpError("gateway.resolveToken", "config", core.ErrInvalidConfiguration)
	}

	g.tokenMu.Lock()
	g.token = parsed.Token
	g.expiry = time.UnixMilli(parsed.Expire)
	g.tokenMu.Unlock()

	return parsed.Token, nil
}

// invalidateToken clears the cached token so the next resolveToken
// call forces a fresh /auth/v1/token request.
func (g *Gateway) invalidateToken() {
	g.tokenMu.Lock()
	g.token = ""
	g.expiry = time.Time{}
	g.tokenMu.Unlock()
}
