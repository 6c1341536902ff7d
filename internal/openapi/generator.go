// Package openapi describes the HTTP surface as an OpenAPI 3 document.
package openapi

import (
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/nikoai/niko/internal/ratelimit"
)

// Extension keys attached to every rate-limited operation.
const (
	ExtClass       = "x-ratelimit-class"
	ExtMaxRequests = "x-ratelimit-max-requests"
	ExtWindow      = "x-ratelimit-window-seconds"
)

const errorRef = "#/components/schemas/ErrorResponse"

// gate is the authentication an operation requires.
type gate int

const (
	gateNone gate = iota
	gateIdentity
	gatePrivileged
)

// Generate builds the document for a server reachable at baseURL whose
// admission pipeline enforces policies.
func Generate(baseURL string, policies ratelimit.Policies) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Niko API",
			Description: "Registration, login, profile and account administration behind per-class rate limits.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Components.SecuritySchemes["serviceKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = errorSchema()
	doc.Components.Schemas["Identity"] = identitySchema()
	doc.Components.Schemas["TokenResponse"] = tokenSchema()

	doc.Paths = openapi3.NewPaths()
	g := &builder{doc: doc, policies: policies}
	g.authPaths()
	g.adminPaths()
	g.healthPaths()
	return doc
}

type builder struct {
	doc      *openapi3.T
	policies ratelimit.Policies
}

func (g *builder) op(class ratelimit.Class, gt gate, tag, id, summary string, responses *openapi3.Responses) *openapi3.Operation {
	p := g.policies.For(class)
	op := &openapi3.Operation{
		Tags:        []string{tag},
		Summary:     summary,
		OperationID: id,
		Responses:   responses,
		Extensions: map[string]interface{}{
			ExtClass:       class.String(),
			ExtMaxRequests: p.MaxRequests,
			ExtWindow:      int64(p.Window / time.Second),
		},
	}
	setResponse(op.Responses, "429", "Rate limit exceeded; see the Retry-After header", openapi3.NewSchemaRef(errorRef, nil))

	switch gt {
	case gateIdentity:
		op.Security = &openapi3.SecurityRequirements{{"bearerAuth": {}}, {"serviceKey": {}}}
		setResponse(op.Responses, "401", "Authentication required", openapi3.NewSchemaRef(errorRef, nil))
	case gatePrivileged:
		op.Security = &openapi3.SecurityRequirements{{"bearerAuth": {}}}
		setResponse(op.Responses, "401", "Authentication required", openapi3.NewSchemaRef(errorRef, nil))
		setResponse(op.Responses, "403", "Insufficient privilege", openapi3.NewSchemaRef(errorRef, nil))
	default:
		op.Security = &openapi3.SecurityRequirements{}
	}
	return op
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func (g *builder) authPaths() {
	identity := openapi3.NewSchemaRef("#/components/schemas/Identity", nil)

	register := g.op(ratelimit.ClassRegistration, gateNone, "auth", "register", "Register a new account",
		newResponses("201", "Account created", identity))
	setResponse(register.Responses, "409", "Username already taken", openapi3.NewSchemaRef(errorRef, nil))
	register.RequestBody = jsonBody("Credentials and optional profile", credentialsSchema(true))
	g.doc.Paths.Set("/register", &openapi3.PathItem{Post: register})

	login := g.op(ratelimit.ClassAuthentication, gateNone, "auth", "login", "Exchange credentials for an access token",
		newResponses("200", "Access token", openapi3.NewSchemaRef("#/components/schemas/TokenResponse", nil)))
	login.RequestBody = jsonBody("Credentials", credentialsSchema(false))
	g.doc.Paths.Set("/login", &openapi3.PathItem{Post: login})

	g.doc.Paths.Set("/logout", &openapi3.PathItem{
		Post: g.op(ratelimit.ClassGeneral, gateIdentity, "auth", "logout", "Acknowledge a client-side logout",
			newResponses("200", "Logged out", messageSchema())),
	})

	update := g.op(ratelimit.ClassGeneral, gateIdentity, "profile", "updateMe", "Update the caller's profile or password",
		newResponses("200", "Updated profile", identity))
	update.RequestBody = jsonBody("Fields to change", &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"email":            openapi3.NewStringSchema().WithFormat("email").NewRef(),
			"full_name":        openapi3.NewStringSchema().NewRef(),
			"current_password": openapi3.NewStringSchema().NewRef(),
			"new_password":     openapi3.NewStringSchema().NewRef(),
		},
	}})

	g.doc.Paths.Set("/me", &openapi3.PathItem{
		Get: g.op(ratelimit.ClassGeneral, gateIdentity, "profile", "getMe", "The caller's profile",
			newResponses("200", "Profile", identity)),
		Put: update,
		Delete: g.op(ratelimit.ClassGeneral, gateIdentity, "profile", "deleteMe", "Schedule the caller's account for deletion",
			newResponses("200", "Deletion scheduled; log in before purge_after to cancel", &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"message":     openapi3.NewStringSchema().NewRef(),
					"deleted_at":  openapi3.NewDateTimeSchema().NewRef(),
					"purge_after": openapi3.NewDateTimeSchema().NewRef(),
				},
			}})),
	})
}

func (g *builder) adminPaths() {
	identity := openapi3.NewSchemaRef("#/components/schemas/Identity", nil)
	nameParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("name").
		WithDescription("Username.").
		WithSchema(openapi3.NewStringSchema())}

	list := g.op(ratelimit.ClassGeneral, gatePrivileged, "admin", "listUsers", "List accounts",
		newResponses("200", "Accounts", &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource": openapi3.NewArraySchema().WithItems(identitySchema().Value).NewRef(),
				"meta":     metaSchema(),
			},
		}}))
	list.Parameters = openapi3.Parameters{
		queryParam("include_deleted", "Include accounts pending deletion.", openapi3.NewBoolSchema()),
		queryParam("filter_admin", "Only privileged (true) or unprivileged (false) accounts.", openapi3.NewBoolSchema()),
		queryParam("sort_by", "name, created_at, updated_at or last_login_at.", openapi3.NewStringSchema().
			WithEnum("name", "created_at", "updated_at", "last_login_at")),
		queryParam("sort_order", "asc or desc.", openapi3.NewStringSchema().WithEnum("asc", "desc")),
	}

	create := g.op(ratelimit.ClassGeneral, gatePrivileged, "admin", "createUser", "Create an account",
		newResponses("201", "Account created", identity))
	create.RequestBody = jsonBody("New account", credentialsSchema(true))

	g.doc.Paths.Set("/api/admin/users", &openapi3.PathItem{Get: list, Post: create})

	item := &openapi3.PathItem{
		Parameters: openapi3.Parameters{nameParam},
		Get: g.op(ratelimit.ClassGeneral, gatePrivileged, "admin", "getUser", "Get an account",
			newResponses("200", "Account", identity)),
		Put: g.op(ratelimit.ClassGeneral, gatePrivileged, "admin", "updateUser", "Update an account",
			newResponses("200", "Updated account", identity)),
		Delete: g.op(ratelimit.ClassGeneral, gatePrivileged, "admin", "deleteUser", "Schedule an account for deletion",
			newResponses("200", "Deletion scheduled", identity)),
	}
	item.Put.RequestBody = jsonBody("Fields to change", &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"email":         openapi3.NewStringSchema().WithFormat("email").NewRef(),
			"full_name":     openapi3.NewStringSchema().NewRef(),
			"is_privileged": openapi3.NewBoolSchema().NewRef(),
			"password":      openapi3.NewStringSchema().NewRef(),
		},
	}})
	g.doc.Paths.Set("/api/admin/users/{name}", item)

	restore := g.op(ratelimit.ClassGeneral, gatePrivileged, "admin", "restoreUser", "Cancel a pending deletion",
		newResponses("200", "Restored account", identity))
	setResponse(restore.Responses, "410", "Deletion grace period has ended", openapi3.NewSchemaRef(errorRef, nil))
	g.doc.Paths.Set("/api/admin/users/{name}/restore", &openapi3.PathItem{
		Parameters: openapi3.Parameters{nameParam},
		Post:       restore,
	})

	g.doc.Paths.Set("/api/admin/purge", &openapi3.PathItem{
		Post: g.op(ratelimit.ClassGeneral, gatePrivileged, "admin", "purge", "Remove accounts whose deletion grace period has ended",
			newResponses("200", "Purged accounts", &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"purged": openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()).NewRef(),
					"count":  openapi3.NewIntegerSchema().NewRef(),
				},
			}})),
	})

	status := g.op(ratelimit.ClassGeneral, gatePrivileged, "admin", "rateLimitStatus", "Remaining quota per class for a caller",
		newResponses("200", "Quota", &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}))
	status.Parameters = openapi3.Parameters{
		queryParam("caller", "Caller key (client address).", openapi3.NewStringSchema()),
	}
	status.Parameters[0].Value.Required = true

	reset := g.op(ratelimit.ClassGeneral, gatePrivileged, "admin", "rateLimitReset", "Clear rate-limit windows",
		newResponses("200", "Number of windows cleared", &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: openapi3.Schemas{"cleared": openapi3.NewIntegerSchema().NewRef()},
		}}))
	classes := make([]interface{}, 0, len(ratelimit.Classes))
	for _, c := range ratelimit.Classes {
		classes = append(classes, c.String())
	}
	reset.Parameters = openapi3.Parameters{
		queryParam("caller", "Only clear windows of this caller.", openapi3.NewStringSchema()),
		queryParam("class", "Only clear windows of this class.", openapi3.NewStringSchema().WithEnum(classes...)),
	}

	g.doc.Paths.Set("/api/admin/ratelimit", &openapi3.PathItem{Get: status, Delete: reset})
}

func (g *builder) healthPaths() {
	ok := &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{"status": openapi3.NewStringSchema().NewRef()},
	}}
	g.doc.Paths.Set("/healthz", &openapi3.PathItem{Get: &openapi3.Operation{
		Tags:        []string{"system"},
		Summary:     "Liveness check",
		OperationID: "healthz",
		Security:    &openapi3.SecurityRequirements{},
		Responses:   newResponses("200", "Alive", ok),
	}})

	// Readiness pings the store, so it is rate limited.
	ready := g.op(ratelimit.ClassGeneral, gateNone, "system", "readyz", "Readiness check",
		newResponses("200", "Ready", ok))
	setResponse(ready.Responses, "503", "Credential store unavailable", ok)
	g.doc.Paths.Set("/readyz", &openapi3.PathItem{Get: ready})
}

// ─── Schema Builders ────────────────────────────────────────────────────────

func errorSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
				"retry_after": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
			},
		},
	}
}

func identitySchema() *openapi3.SchemaRef {
	ts := openapi3.NewDateTimeSchema()
	nullableTS := openapi3.NewDateTimeSchema().WithNullable()
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"name":          openapi3.NewStringSchema().NewRef(),
				"is_privileged": openapi3.NewBoolSchema().NewRef(),
				"email":         openapi3.NewStringSchema().NewRef(),
				"full_name":     openapi3.NewStringSchema().NewRef(),
				"created_at":    ts.NewRef(),
				"updated_at":    ts.NewRef(),
				"last_login_at": nullableTS.NewRef(),
				"deleted_at":    nullableTS.NewRef(),
			},
		},
	}
}

func tokenSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"access_token", "token_type", "expires_in"},
			Properties: openapi3.Schemas{
				"access_token": openapi3.NewStringSchema().NewRef(),
				"token_type":   openapi3.NewStringSchema().WithEnum("bearer").NewRef(),
				"expires_in":   openapi3.NewInt64Schema().NewRef(),
				"expires_at":   openapi3.NewDateTimeSchema().NewRef(),
				"restored": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:        &openapi3.Types{"boolean"},
					Description: "True when this login cancelled a pending account deletion.",
				}},
			},
		},
	}
}

func credentialsSchema(withProfile bool) *openapi3.SchemaRef {
	s := &openapi3.Schema{
		Type:     &openapi3.Types{"object"},
		Required: []string{"username", "password"},
		Properties: openapi3.Schemas{
			"username": openapi3.NewStringSchema().WithPattern(`^[A-Za-z][A-Za-z0-9_]{2,29}$`).NewRef(),
			"password": openapi3.NewStringSchema().WithMinLength(8).WithMaxLength(72).NewRef(),
		},
	}
	if withProfile {
		s.Properties["email"] = openapi3.NewStringSchema().WithFormat("email").NewRef()
		s.Properties["full_name"] = openapi3.NewStringSchema().NewRef()
	}
	return &openapi3.SchemaRef{Value: s}
}

func messageSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: openapi3.Schemas{"message": openapi3.NewStringSchema().NewRef()},
	}}
}

func metaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"count":   &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
				"took_ms": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}}},
			},
		},
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func queryParam(name, description string, schema *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: openapi3.NewQueryParameter(name).
		WithDescription(description).
		WithSchema(schema)}
}

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

// newResponses builds a Responses map with a success response and the
// standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()
	setResponse(responses, statusCode, description, schema)
	errRef := openapi3.NewSchemaRef(errorRef, nil)
	setResponse(responses, "400", "Bad request", errRef)
	setResponse(responses, "500", "Internal server error", errRef)
	return responses
}

func setResponse(responses *openapi3.Responses, code, description string, schema *openapi3.SchemaRef) {
	desc := description
	responses.Set(code, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})
}
