// Package spotify implements the Web API side of playback: OAuth tokens,
// the player endpoints and playlist metadata.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"playsync/internal/core"
)

const (
	// FilePermission is the permission for token files
	FilePermission = 0600

	authState = "playsync-auth-state"
)

// playbackScopes are requested on login. Streaming and playback control are
// required for the embedded player; the rest feed the now-playing view.
var playbackScopes = []string{
	spotifyauth.ScopeStreaming,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopeUserReadEmail,
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopePlaylistReadPrivate,
}

// TokenData is the on-disk token file. Scope is kept next to the token
// because oauth2 drops response extras on serialization.
type TokenData struct {
	Token *oauth2.Token `json:"token"`
	Scope string        `json:"scope,omitempty"`
}

// Authenticator holds the user's OAuth token, refreshes it, and serves it as
// a playback token.
type Authenticator struct {
	config *core.SpotifyConfig
	logger *zap.Logger
	auth   *spotifyauth.Authenticator
	oauth  *oauth2.Config

	mu     sync.Mutex
	source oauth2.TokenSource
	last   *oauth2.Token
	scope  string
}

func NewAuthenticator(config *core.SpotifyConfig, logger *zap.Logger) *Authenticator {
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(config.RedirectURL),
		spotifyauth.WithScopes(playbackScopes...),
		spotifyauth.WithClientID(config.ClientID),
		spotifyauth.WithClientSecret(config.ClientSecret),
	)

	return &Authenticator{
		config: config,
		logger: logger,
		auth:   auth,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       playbackScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
	}
}

// Authenticate loads the saved token, or runs the interactive OAuth flow
// when there is none.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	data, err := a.loadToken()
	if err != nil || data.Token == nil {
		a.logger.Info("No saved token found, starting OAuth flow")
		return a.startOAuthFlow(ctx)
	}

	a.use(ctx, data.Token, data.Scope)
	if _, err := a.PlaybackToken(ctx); err != nil {
		a.logger.Warn("Saved token invalid, starting OAuth flow", zap.Error(err))
		return a.startOAuthFlow(ctx)
	}

	a.logger.Info("Authenticated successfully")
	return nil
}

func (a *Authenticator) use(ctx context.Context, token *oauth2.Token, scope string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// the token source outlives the login call
	a.source = oauth2.ReuseTokenSource(token, a.oauth.TokenSource(context.WithoutCancel(ctx), token))
	a.last = token
	a.scope = scope
}

// PlaybackToken returns the current access token, refreshing it when it
// expired. Refreshed tokens are written back to disk.
func (a *Authenticator) PlaybackToken(_ context.Context) (*core.TokenGrant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source == nil {
		return nil, errors.New("not authenticated")
	}

	token, err := a.source.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh spotify token: %w", err)
	}

	if a.last == nil || token.AccessToken != a.last.AccessToken {
		if scope, ok := token.Extra("scope").(string); ok && scope != "" {
			a.scope = scope
		}
		a.last = token
		if err := a.saveToken(&TokenData{Token: token, Scope: a.scope}); err != nil {
			a.logger.Warn("Failed to save token", zap.Error(err))
		}
	}

	grant := &core.TokenGrant{
		AccessToken: token.AccessToken,
		TokenType:   token.Type(),
		Scope:       a.scope,
	}
	if !token.Expiry.IsZero() {
		grant.ExpiresIn = int(time.Until(token.Expiry).Seconds())
	}
	return grant, nil
}

// HTTPClient returns a client that authorizes requests with the user token.
func (a *Authenticator) HTTPClient(ctx context.Context) *http.Client {
	return &http.Client{Transport: &oauth2.Transport{Source: tokenSourceFunc(func() (*oauth2.Token, error) {
		grant, err := a.PlaybackToken(ctx)
		if err != nil {
			return nil, err
		}
		return &oauth2.Token{AccessToken: grant.AccessToken, TokenType: grant.TokenType}, nil
	})}}
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

func (a *Authenticator) startOAuthFlow(ctx context.Context) error {
	authURL := a.auth.AuthURL(authState)

	fmt.Printf("Please visit the following URL to authorize the application:\n%s\n", authURL)
	fmt.Print("Enter the authorization code: ")

	var code string
	if _, err := fmt.Scanln(&code); err != nil {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	token, err := a.auth.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("failed to exchange code for token: %w", err)
	}

	scope, _ := token.Extra("scope").(string)
	if saveErr := a.saveToken(&TokenData{Token: token, Scope: scope}); saveErr != nil {
		a.logger.Warn("Failed to save token", zap.Error(saveErr))
	}
	a.use(ctx, token, scope)

	a.logger.Info("OAuth flow completed successfully", zap.Strings("scopes", strings.Fields(scope)))
	return nil
}

func (a *Authenticator) loadToken() (*TokenData, error) {
	data, err := os.ReadFile(a.config.TokenPath)
	if err != nil {
		return nil, err
	}

	var tokenData TokenData
	if err := json.Unmarshal(data, &tokenData); err != nil {
		return nil, err
	}
	return &tokenData, nil
}

func (a *Authenticator) saveToken(tokenData *TokenData) error {
	data, err := json.MarshalIndent(tokenData, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.config.TokenPath, data, FilePermission)
}
