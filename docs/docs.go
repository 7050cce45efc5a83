// Package docs registers the OpenAPI description of the HTTP surface with swag.
package docs

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/swaggo/swag"
	"gopkg.in/yaml.v3"
)

//go:embed swagger.yaml
var swaggerYAML []byte

// SwaggerInfo serves the embedded document as JSON.
var SwaggerInfo = &embeddedDoc{source: swaggerYAML}

type embeddedDoc struct {
	source []byte
	once   sync.Once
	doc    string
	err    error
}

// ReadDoc implements swag.Swagger.
func (s *embeddedDoc) ReadDoc() string {
	s.once.Do(func() {
		s.doc, s.err = toJSON(s.source)
	})
	return s.doc
}

// Err reports why the document could not be converted, if it could not.
func (s *embeddedDoc) Err() error {
	s.ReadDoc()
	return s.err
}

func toJSON(src []byte) (string, error) {
	var doc any
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return "", fmt.Errorf("parse swagger.yaml: %w", err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return "", fmt.Errorf("encode swagger json: %w", err)
	}
	return string(out), nil
}

// stringKeys rewrites mappings with non-string keys so they encode as JSON objects.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case []any:
		for i := range t {
			t[i] = stringKeys(t[i])
		}
		return t
	default:
		return v
	}
}

func init() {
	swag.Register(swag.Name, SwaggerInfo)
}
