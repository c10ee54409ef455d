// Package schema validates job payloads against per-type JSON Schemas before
// they are written to the store.
package schema

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"supportdesk-backend/internal/queue/domain"
)

//go:embed schemas/*.json
var files embed.FS

const baseURL = "https://supportdesk.local/schemas/"

// Validator holds one compiled schema per job type
type Validator struct {
	schemas map[domain.JobType]*jsonschema.Schema
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default returns the validator compiled from the embedded schemas
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = New()
	})
	return defaultValidator, defaultErr
}

func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	v := &Validator{schemas: make(map[domain.JobType]*jsonschema.Schema)}

	for _, jobType := range domain.AllJobTypes {
		name := string(jobType) + ".json"
		raw, err := files.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := c.AddResource(baseURL+name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		compiled, err := c.Compile(baseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[jobType] = compiled
	}
	return v, nil
}

// Validate checks raw JSON against the schema for jobType
func (v *Validator) Validate(jobType domain.JobType, raw []byte) error {
	s, ok := v.schemas[jobType]
	if !ok {
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown job type %q", jobType)}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &domain.ValidationError{Field: "payload", Reason: "not valid JSON"}
	}
	if err := s.Validate(inst); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}
