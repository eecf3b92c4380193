package session

import (
	"os"
	"time"
)

// Config defines runtime configuration for access-token verification.
//
// It is intentionally explicit and environment-driven so that production
// deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value required in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of tokens issued by Issue.
	// Verification trusts the token's own expiration claim.
	AccessTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public access tokens. Required for issuing; verification only
	// needs the derived public key.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns a secure default configuration suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:         "fitlink",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - FITLINK_PASETO_V4_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - FITLINK_AUTH_ISSUER
//   - FITLINK_AUTH_ACCESS_TTL
//   - FITLINK_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("FITLINK_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("FITLINK_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("FITLINK_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("FITLINK_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
