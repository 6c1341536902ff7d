package openapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikoai/niko/internal/ratelimit"
)

func TestGenerateDocument(t *testing.T) {
	doc := Generate("http://localhost:8080", ratelimit.DefaultPolicies())

	assert.Equal(t, "3.0.3", doc.OpenAPI)
	require.Len(t, doc.Servers, 1)
	assert.Equal(t, "http://localhost:8080", doc.Servers[0].URL)
	assert.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
	assert.Contains(t, doc.Components.SecuritySchemes, "serviceKey")

	for _, path := range []string{
		"/register", "/login", "/logout", "/me",
		"/api/admin/users", "/api/admin/users/{name}", "/api/admin/users/{name}/restore",
		"/api/admin/purge", "/api/admin/ratelimit", "/healthz", "/readyz",
	} {
		assert.NotNil(t, doc.Paths.Value(path), "missing path %s", path)
	}
}

func TestGenerateRateLimitExtensions(t *testing.T) {
	policies := ratelimit.DefaultPolicies()
	policies.Registration = ratelimit.Policy{MaxRequests: 3, Window: time.Minute}
	doc := Generate("", policies)

	register := doc.Paths.Value("/register").Post
	require.NotNil(t, register)
	assert.Equal(t, "registration", register.Extensions[ExtClass])
	assert.Equal(t, 3, register.Extensions[ExtMaxRequests])
	assert.Equal(t, int64(60), register.Extensions[ExtWindow])
	assert.NotNil(t, register.Responses.Value("429"))

	login := doc.Paths.Value("/login").Post
	assert.Equal(t, "authentication", login.Extensions[ExtClass])

	ready := doc.Paths.Value("/readyz").Get
	require.NotNil(t, ready)
	assert.Equal(t, "general", ready.Extensions[ExtClass])
	assert.NotNil(t, ready.Responses.Value("503"))

	health := doc.Paths.Value("/healthz").Get
	require.NotNil(t, health)
	assert.NotContains(t, health.Extensions, ExtClass)

	restore := doc.Paths.Value("/api/admin/users/{name}/restore").Post
	assert.NotNil(t, restore.Responses.Value("410"))
}

func TestGenerateSecurityPerGate(t *testing.T) {
	doc := Generate("", ratelimit.DefaultPolicies())

	register := doc.Paths.Value("/register").Post
	require.NotNil(t, register.Security)
	assert.Empty(t, *register.Security)
	assert.Nil(t, register.Responses.Value("401"))

	me := doc.Paths.Value("/me").Get
	require.NotNil(t, me.Security)
	assert.Len(t, *me.Security, 2)
	assert.NotNil(t, me.Responses.Value("401"))
	assert.Nil(t, me.Responses.Value("403"))

	list := doc.Paths.Value("/api/admin/users").Get
	require.NotNil(t, list.Security)
	assert.Len(t, *list.Security, 1)
	assert.NotNil(t, list.Responses.Value("403"))
}

func TestGenerateMarshalsToJSON(t *testing.T) {
	raw, err := json.Marshal(Generate("http://example.test", ratelimit.DefaultPolicies()))
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "3.0.3", out["openapi"])
	assert.Contains(t, string(raw), `"x-ratelimit-class":"registration"`)
}
