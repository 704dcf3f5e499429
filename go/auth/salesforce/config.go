package salesforce

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// CredentialConfig holds the OAuth2 client-credentials settings for one
// connected app.
type CredentialConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// Domain is the org's login host, like "example.my.salesforce.com".
	// Ignored when TokenURL is set explicitly.
	Domain string `yaml:"domain"`
	// TokenURL overrides the token endpoint derived from Domain.
	TokenURL string `yaml:"token_url"`
	// InstanceURL overrides the API host the token response reports.
	InstanceURL string `yaml:"instance_url"`
}

func (c *CredentialConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("missing client_id")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("missing client_secret")
	}
	if c.Domain == "" && c.TokenURL == "" {
		return fmt.Errorf("either domain or token_url must be set")
	}
	if c.TokenURL != "" {
		if u, err := url.Parse(c.TokenURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid token_url %q", c.TokenURL)
		}
	}
	return nil
}

// ResolvedTokenURL is the token endpoint to use, preferring an explicit
// TokenURL over the one derived from Domain.
func (c *CredentialConfig) ResolvedTokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	var domain = strings.TrimPrefix(strings.TrimPrefix(c.Domain, "https://"), "http://")
	return "https://" + strings.TrimSuffix(domain, "/") + "/services/oauth2/token"
}

// Env files checked in order. Values already present in the process
// environment always win over file contents.
var envFiles = []string{".env", ".env.local", ".env.dev"}

// FromEnv builds a CredentialConfig from the environment. A file named by
// SF_ENV_FILE, or otherwise the first of .env, .env.local and .env.dev that
// exists, supplies defaults for variables the environment leaves unset.
func FromEnv() (*CredentialConfig, error) {
	var candidates = envFiles
	if named := os.Getenv("SF_ENV_FILE"); named != "" {
		candidates = []string{named}
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// godotenv.Load never overwrites variables that are already set.
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("loading env file %q: %w", f, err)
		}
		log.WithField("file", f).Debug("loaded credentials from env file")
		break
	}

	var cfg = &CredentialConfig{
		ClientID:     os.Getenv("SF_CLIENT_ID"),
		ClientSecret: os.Getenv("SF_CLIENT_SECRET"),
		Domain:       os.Getenv("SF_DOMAIN"),
		TokenURL:     os.Getenv("SF_TOKEN_URL"),
		InstanceURL:  os.Getenv("SF_INSTANCE_URL"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
