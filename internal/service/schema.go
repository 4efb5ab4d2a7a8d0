package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AlxanderArt/HumanOS/internal/domain"
)

// schemaCache holds compiled label schemas keyed by their content hash, so a
// project whose schema is edited gets a fresh compile.
type schemaCache struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{compiled: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) get(raw json.RawMessage) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.compiled[key]; ok {
		return s, nil
	}

	comp := jsonschema.NewCompiler()
	comp.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://humanos.schemas.local/labels/%s.schema.json", key)
	if err := comp.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("label schema load failed: %w", err)
	}
	s, err := comp.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("label schema compile failed: %w", err)
	}
	c.compiled[key] = s
	return s, nil
}

// validateLabels checks labels against the project's label schema. Projects
// without a schema accept any object.
func (c *schemaCache) validateLabels(project *domain.Project, labels json.RawMessage) error {
	if len(project.LabelSchema) == 0 || string(project.LabelSchema) == "null" {
		return nil
	}
	schema, err := c.get(project.LabelSchema)
	if err != nil {
		return fmt.Errorf("project %s: %w", project.ID, err)
	}
	doc, err := decodeLabels(labels)
	if err != nil {
		return &domain.ValidationError{Field: "labels", Reason: err.Error()}
	}
	if err := schema.Validate(doc); err != nil {
		return &domain.ValidationError{Field: "labels", Reason: err.Error()}
	}
	return nil
}

// decodeLabels decodes one JSON value with numbers kept as json.Number, the
// form Schema.Validate expects.
func decodeLabels(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode labels: trailing data after JSON value")
	}
	return doc, nil
}
