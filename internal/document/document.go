// Package document loads the local OpenAPI input and validates transformed
// output before upload.
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// MaxSize caps the input document at 10 MB.
const MaxSize = 10 << 20

// Load reads a JSON or YAML document from path into a generic map. Files
// larger than MaxSize are rejected before decoding.
func Load(path string) (map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("document %s exceeds the %d byte limit", path, MaxSize)
	}

	return Decode(data)
}

// Decode parses raw bytes into a generic map, sniffing JSON first and
// falling back to YAML.
func Decode(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode json document: %w", err)
		}
		return doc, nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml document: %w", err)
	}
	return doc, nil
}

// Marshal renders a document as indented JSON, the form uploaded to the
// vendor.
func Marshal(doc map[string]any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Validate loads the document with the OpenAPI toolchain and runs structural
// validation. Used as a pre-upload check; callers decide whether a failure
// is fatal.
func Validate(ctx context.Context, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document for validation: %w", err)
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx

	parsed, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("parse openapi document: %w", err)
	}
	if err := parsed.Validate(ctx); err != nil {
		return fmt.Errorf("validate openapi document: %w", err)
	}
	return nil
}
