package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenError reports a failure to obtain an access token.
type TokenError struct {
	TokenURL string
	Err      error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("obtaining access token from %s: %v", e.TokenURL, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// Connect performs a client-credentials token exchange and returns an HTTP
// client that attaches and refreshes the token on every request, along with
// the instance URL API calls should target.
func (c *CredentialConfig) Connect(ctx context.Context) (*http.Client, string, error) {
	var tokenURL = c.ResolvedTokenURL()
	var conf = &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	// Fetch a token eagerly so credential mistakes surface before any job is
	// created, and so the instance URL the token response reports is known.
	tok, err := conf.Token(ctx)
	if err != nil {
		return nil, "", &TokenError{TokenURL: tokenURL, Err: err}
	}

	var instanceURL = c.InstanceURL
	if instanceURL == "" {
		if extra, ok := tok.Extra("instance_url").(string); ok && extra != "" {
			instanceURL = extra
		}
	}
	if instanceURL == "" {
		// Last resort: assume the API lives on the token endpoint's host.
		u, err := url.Parse(tokenURL)
		if err != nil {
			return nil, "", &TokenError{TokenURL: tokenURL, Err: err}
		}
		instanceURL = u.Scheme + "://" + u.Host
	}

	log.WithField("instanceURL", instanceURL).Info("authenticated")
	return conf.Client(ctx), instanceURL, nil
}
