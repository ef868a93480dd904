package bridge

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zhaopengme/keycheck/pkg/config"
)

// NewTokenSource returns the bearer token source for the bridge, or nil when
// the bridge is unauthenticated. Client credentials take precedence over a
// static token.
func NewTokenSource(ctx context.Context, cfg config.BridgeConfig) oauth2.TokenSource {
	if cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		return cc.TokenSource(ctx)
	}
	if cfg.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	}
	return nil
}
