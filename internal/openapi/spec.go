package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// GenerateSpec builds the OpenAPI document for the Keygate HTTP API. The
// document is assembled programmatically so it can never drift from the
// router without a failing test.
func GenerateSpec() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Keygate API",
			Description: "Bearer credential service: session tokens, named API keys, and project access grants.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: "/"},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	// Both session tokens and API key secrets travel as bearer credentials.
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "http",
			Scheme:      "bearer",
			Description: "Session token (JWT) or API key secret (sk-...)",
		},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
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
			},
		},
	}
	doc.Components.Schemas["APIKey"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":           int64Schema(),
				"name":         stringSchema(""),
				"key_prefix":   stringSchema("First characters of the secret, for identification only"),
				"revoked":      boolSchema(),
				"state":        stringSchema("active, expired, or revoked"),
				"expires_at":   stringSchema("date-time"),
				"last_used_at": stringSchema("date-time"),
				"created_at":   stringSchema("date-time"),
			},
		},
	}
	doc.Components.Schemas["Project"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":          int64Schema(),
				"name":        stringSchema(""),
				"description": stringSchema(""),
				"is_active":   boolSchema(),
				"created_at":  stringSchema("date-time"),
				"updated_at":  stringSchema("date-time"),
			},
		},
	}
	doc.Components.Schemas["ListResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"items": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:  &openapi3.Types{"array"},
					Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
				}},
				"total": int64Schema(),
				"skip":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
				"limit": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
			},
		},
	}

	doc.Paths = openapi3.NewPaths()

	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: newOperation("Liveness probe", "health", false),
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: newOperation("Readiness probe, checks the record store", "health", false),
	})

	doc.Paths.Set("/api/v1/auth/register", &openapi3.PathItem{
		Post: newOperation("Register a new user account", "auth", false),
	})
	doc.Paths.Set("/api/v1/auth/login", &openapi3.PathItem{
		Post: newOperation("Issue a session token (form-encoded username/password)", "auth", false),
	})

	doc.Paths.Set("/api/v1/auth/tokens", &openapi3.PathItem{
		Get:  newOperation("List the caller's API keys", "keys", true),
		Post: newOperation("Mint a new API key; the secret is returned once", "keys", true),
	})
	doc.Paths.Set("/api/v1/auth/tokens/{keyID}", &openapi3.PathItem{
		Get:    newOperation("Get one of the caller's API keys", "keys", true),
		Patch:  newOperation("Replace the key's expiry with now + expires_in_days", "keys", true),
		Delete: newOperation("Revoke the key permanently (idempotent)", "keys", true),
	})
	doc.Paths.Set("/api/v1/auth/tokens/{keyID}/projects", &openapi3.PathItem{
		Get: newOperation("List the key's project grants", "keys", true),
	})
	doc.Paths.Set("/api/v1/auth/tokens/{keyID}/projects/{projectID}", &openapi3.PathItem{
		Post:   newOperation("Grant the key access to a project", "keys", true),
		Delete: newOperation("Remove the key's access grant", "keys", true),
	})

	doc.Paths.Set("/api/v1/projects", &openapi3.PathItem{
		Get:  newOperation("List projects", "projects", true),
		Post: newOperation("Create a project", "projects", true),
	})
	doc.Paths.Set("/api/v1/projects/mine", &openapi3.PathItem{
		Get: newOperation("List the caller's project memberships", "projects", true),
	})
	doc.Paths.Set("/api/v1/projects/{projectID}", &openapi3.PathItem{
		Get:    newOperation("Get a project", "projects", true),
		Patch:  newOperation("Update a project", "projects", true),
		Delete: newOperation("Delete a project and its grants", "projects", true),
	})
	doc.Paths.Set("/api/v1/projects/{projectID}/users", &openapi3.PathItem{
		Post: newOperation("Grant a user membership in the project", "projects", true),
	})
	doc.Paths.Set("/api/v1/projects/{projectID}/users/{userID}", &openapi3.PathItem{
		Delete: newOperation("Remove a user's membership", "projects", true),
	})
	doc.Paths.Set("/api/v1/projects/{projectID}/keys", &openapi3.PathItem{
		Get: newOperation("List key grants attached to the project", "projects", true),
	})

	return doc
}

func newOperation(summary, tag string, secured bool) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.Summary = summary
	op.Tags = []string{tag}
	op.Responses = openapi3.NewResponses()
	if secured {
		op.Security = &openapi3.SecurityRequirements{{"bearerAuth": {}}}
	}
	return op
}

func int64Schema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}
}

func stringSchema(descOrFormat string) *openapi3.SchemaRef {
	s := &openapi3.Schema{Type: &openapi3.Types{"string"}}
	if descOrFormat == "date-time" {
		s.Format = "date-time"
	} else {
		s.Description = descOrFormat
	}
	return &openapi3.SchemaRef{Value: s}
}

func boolSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}
