package store

import (
	"time"

	"golang.org/x/oauth2"
)

// Credential is one identity domain's token record. It is the persisted
// form of an oauth2.Token: created on OAuth callback, replaced on refresh,
// never deleted except by a manual reset of the backing store.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// FromOAuthToken converts an oauth2 token into its persisted form.
func FromOAuthToken(tok *oauth2.Token) Credential {
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

// OAuthToken rebuilds the oauth2 token for use with a TokenSource.
func (c Credential) OAuthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// Valid reports whether the access token is present and unexpired.
// A small margin keeps us from handing out a token about to lapse mid-call.
func (c Credential) Valid() bool {
	if c.AccessToken == "" {
		return false
	}
	if c.Expiry.IsZero() {
		return true
	}
	return time.Until(c.Expiry) > 30*time.Second
}
