package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// ValidationError reports a request body that violates the backend's schema
// for its operation. Surfaced as 422; the upstream is never contacted for
// such a request.
type ValidationError struct {
	Method string
	Path   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("openapi validation failed for %s %s: %s", e.Method, e.Path, e.Detail)
}

// Validator validates request bodies against the cached OpenAPI document.
// Compiled schemas are cached per operation and flushed whenever the
// document is refetched.
type Validator struct {
	cache *SchemaCache

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
	docEpoch time.Time
}

// NewValidator wraps a schema cache.
func NewValidator(cache *SchemaCache) *Validator {
	return &Validator{cache: cache, compiled: make(map[string]*jsonschema.Schema)}
}

// ValidateRequest checks body against the schema registered for (method,
// path). Requests without a body, or operations without a schema, pass.
// Returns ErrUnavailable (wrapped) when the document cannot be fetched and
// *ValidationError on a violation.
func (v *Validator) ValidateRequest(ctx context.Context, method, path string, body []byte) error {
	if len(body) == 0 {
		return nil
	}

	doc, fetchedAt, err := v.cache.Document(ctx)
	if err != nil {
		return err
	}

	schema, err := v.schemaFor(doc, fetchedAt, method, path)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return &ValidationError{Method: method, Path: path, Detail: "request body is not valid JSON"}
	}
	if err := schema.Validate(payload); err != nil {
		return &ValidationError{Method: method, Path: path, Detail: err.Error()}
	}
	return nil
}

// schemaFor returns the compiled request-body schema for the operation, or
// nil when the document registers none.
func (v *Validator) schemaFor(doc []byte, fetchedAt time.Time, method, path string) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !fetchedAt.Equal(v.docEpoch) {
		v.compiled = make(map[string]*jsonschema.Schema)
		v.docEpoch = fetchedAt
	}

	method = strings.ToLower(method)
	key := method + " " + path
	if schema, ok := v.compiled[key]; ok {
		return schema, nil
	}

	lookup := fmt.Sprintf("paths.%s.%s.requestBody.content.application/json.schema", gjsonKey(path), method)
	if !gjson.GetBytes(doc, lookup).Exists() {
		v.compiled[key] = nil
		return nil, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("openapi.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add openapi document: %w", err)
	}
	pointer := fmt.Sprintf("openapi.json#/paths/%s/%s/requestBody/content/application~1json/schema",
		jsonPointerToken(path), method)
	schema, err := compiler.Compile(pointer)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s %s: %w", method, path, err)
	}

	v.compiled[key] = schema
	return schema, nil
}

// gjsonKey escapes a URL path for use as a single gjson map key.
func gjsonKey(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ".", "\\.")
	path = strings.ReplaceAll(path, "*", "\\*")
	path = strings.ReplaceAll(path, "?", "\\?")
	return path
}

// jsonPointerToken escapes a URL path as a JSON pointer reference token.
func jsonPointerToken(path string) string {
	path = strings.ReplaceAll(path, "~", "~0")
	return strings.ReplaceAll(path, "/", "~1")
}
