package hardening

import (
	"fmt"
	"strings"
)

// EnvRequirement names a secret that must be set before serving production
// traffic. AUTH_SALT is the canonical one: every stored password hash
// depends on it.
type EnvRequirement struct {
	Name  string
	Value string
}

// Options carries the deployment settings the production gate inspects. All
// values arrive as raw environment strings; parsing happens here so the
// composition root stays declarative.
type Options struct {
	Service                string
	Environment            string
	StrictProdSecurity     string
	DatabaseRequireTLS     string
	RedisAddr              string
	RedisRequireTLS        string
	RedisTLSInsecure       string
	RedisAllowInsecureTLS  string
	CORSAllowedOrigins     string
	RequiredServiceSecrets []EnvRequirement
}

// ValidateProduction refuses to start a production-like deployment with an
// insecure configuration. Development environments pass through untouched,
// and STRICT_PROD_SECURITY=false opts out explicitly.
func ValidateProduction(o Options) error {
	if !productionLike(o.Environment) {
		return nil
	}
	if !flag(o.StrictProdSecurity, true) {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	if !flag(o.DatabaseRequireTLS, false) {
		return fmt.Errorf("%s: production requires DATABASE_REQUIRE_TLS=true", service)
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !flag(o.RedisRequireTLS, false) {
			return fmt.Errorf("%s: production requires REDIS_REQUIRE_TLS=true", service)
		}
		if flag(o.RedisTLSInsecure, false) || flag(o.RedisAllowInsecureTLS, false) {
			return fmt.Errorf("%s: production forbids REDIS_TLS_INSECURE/REDIS_ALLOW_INSECURE_TLS", service)
		}
	}
	if err := checkCORSOrigins(o.CORSAllowedOrigins, service); err != nil {
		return err
	}
	for _, req := range o.RequiredServiceSecrets {
		if strings.TrimSpace(req.Name) == "" {
			continue
		}
		if strings.TrimSpace(req.Value) == "" {
			return fmt.Errorf("%s: production requires %s to be set", service, req.Name)
		}
	}
	return nil
}

// checkCORSOrigins rejects wildcard, localhost, and plain-http origins. The
// session token rides in a cookie, so a permissive origin list hands it to
// any page.
func checkCORSOrigins(raw, service string) error {
	valid := 0
	for _, origin := range strings.Split(raw, ",") {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		valid++
		lower := strings.ToLower(o)
		if lower == "*" {
			return fmt.Errorf("%s: production forbids CORS wildcard origin", service)
		}
		if isLocalOrigin(lower) {
			return fmt.Errorf("%s: production forbids localhost CORS origin %q", service, o)
		}
		if !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("%s: production requires HTTPS CORS origin, got %q", service, o)
		}
	}
	if valid == 0 {
		return fmt.Errorf("%s: production requires explicit CORS_ALLOWED_ORIGINS", service)
	}
	return nil
}

func isLocalOrigin(lower string) bool {
	for _, prefix := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
	} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func flag(raw string, def bool) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	return strings.EqualFold(trimmed, "true")
}

func productionLike(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
