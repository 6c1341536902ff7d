package middleware

import (
	"strings"

	"github.com/nikoai/niko/internal/ratelimit"
)

// Classifier maps a request path to its rate-limit class, or to the bypass
// lane for static assets and liveness checks. The readiness check touches
// the store and is limited like any other request.
type Classifier struct {
	// Classes maps exact paths to a class. Unlisted paths are general.
	Classes map[string]ratelimit.Class
	// BypassPrefixes are path prefixes that skip rate limiting.
	BypassPrefixes []string
	// BypassExact are exact paths that skip rate limiting.
	BypassExact []string
}

// DefaultClassifier returns the stock routing table.
func DefaultClassifier() *Classifier {
	return &Classifier{
		Classes: map[string]ratelimit.Class{
			"/register": ratelimit.ClassRegistration,
			"/login":    ratelimit.ClassAuthentication,
			"/chat":     ratelimit.ClassChatCompletion,
		},
		BypassPrefixes: []string{"/static/"},
		BypassExact:    []string{"/", "/static", "/health", "/healthz", "/favicon.ico", "/sw.js"},
	}
}

// Classify returns the class for path and whether the path bypasses rate
// limiting altogether.
func (c *Classifier) Classify(path string) (class ratelimit.Class, bypass bool) {
	for _, p := range c.BypassExact {
		if path == p {
			return ratelimit.ClassGeneral, true
		}
	}
	for _, p := range c.BypassPrefixes {
		if strings.HasPrefix(path, p) {
			return ratelimit.ClassGeneral, true
		}
	}
	if class, ok := c.Classes[path]; ok {
		return class, false
	}
	return ratelimit.ClassGeneral, false
}
