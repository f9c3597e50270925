package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/zen-systems/medorch/pkg/credential"
)

// EnvPrefix returns the credential environment prefix of a provider.
func (c *Config) EnvPrefix(id string) string {
	if p, ok := c.Providers[id]; ok && p.KeyEnv != "" {
		return strings.ToUpper(p.KeyEnv)
	}
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

// APIKeys reads a provider's API keys from <PREFIX>_API_KEY and the
// comma-separated <PREFIX>_API_KEYS, in that order, dropping duplicates.
// Credential IDs are positional so logs never carry key material.
func (c *Config) APIKeys(id string) []credential.Credential {
	prefix := c.EnvPrefix(id)
	var secrets []string
	if v := strings.TrimSpace(os.Getenv(prefix + "_API_KEY")); v != "" {
		secrets = append(secrets, v)
	}
	for _, v := range strings.Split(os.Getenv(prefix+"_API_KEYS"), ",") {
		if v = strings.TrimSpace(v); v != "" {
			secrets = append(secrets, v)
		}
	}

	seen := make(map[string]bool, len(secrets))
	var creds []credential.Credential
	for _, s := range secrets {
		if seen[s] {
			continue
		}
		seen[s] = true
		creds = append(creds, credential.Credential{
			ID:     fmt.Sprintf("%s-%d", id, len(creds)+1),
			Secret: s,
		})
	}
	return creds
}

// HasCredentials reports whether any key is configured for the provider. Mock
// providers never need one.
func (c *Config) HasCredentials(id string) bool {
	if p, ok := c.Providers[id]; ok && p.Adapter == AdapterMock {
		return true
	}
	return len(c.APIKeys(id)) > 0
}

// CredentialPool loads every enabled provider's keys into a new pool. Mock
// providers get a placeholder credential so they pass credential checks.
func (c *Config) CredentialPool(opts ...credential.Option) *credential.Pool {
	opts = append([]credential.Option{credential.WithAuthCooldown(c.Credentials.AuthCooldown)}, opts...)
	pool := credential.NewPool(opts...)
	for _, id := range c.EnabledProviders() {
		if c.Providers[id].Adapter == AdapterMock {
			pool.Add(id, credential.Credential{ID: id + "-mock", Secret: "mock"})
			continue
		}
		pool.Add(id, c.APIKeys(id)...)
	}
	return pool
}
