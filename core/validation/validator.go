// Package validation checks request bodies against embedded JSON schemas
// before they are decoded into domain types.
package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names an embedded schema.
type Schema string

const (
	SchemaItem       Schema = "item"
	SchemaSubmission Schema = "submission"
	SchemaSubject    Schema = "subject"
	SchemaReconcile  Schema = "reconcile"
	SchemaLoginToken Schema = "login_token"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	mu       sync.Mutex
	compiled = map[Schema]*gojsonschema.Schema{}
)

func load(name Schema) (*gojsonschema.Schema, error) {
	mu.Lock()
	defer mu.Unlock()
	if s, ok := compiled[name]; ok {
		return s, nil
	}
	raw, err := schemaFS.ReadFile("schemas/" + string(name) + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	compiled[name] = s
	return s, nil
}

// Error lists every schema violation of a payload.
type Error struct {
	Schema Schema
	Issues []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payload failed %s validation: %s", e.Schema, strings.Join(e.Issues, "; "))
}

// ValidatePayload validates a raw JSON payload against the named schema.
func ValidatePayload(name Schema, payload []byte) error {
	if !json.Valid(payload) {
		return &Error{Schema: name, Issues: []string{"body is not valid JSON"}}
	}
	s, err := load(name)
	if err != nil {
		return err
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	verr := &Error{Schema: name}
	for _, e := range result.Errors() {
		verr.Issues = append(verr.Issues, e.String())
	}
	// Field names and rule descriptions only; payload values stay out of logs.
	slog.Debug("payload rejected", "component", "validation", "schema", name, "issues", len(verr.Issues))
	return verr
}
