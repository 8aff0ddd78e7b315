// Package schema compiles and caches the JSON Schemas that requesters
// attach to service requests as offer intake schemas. Many offers
// validate against the same request's schema, so compiled schemas are
// kept in an expirable LRU keyed by the schema document itself.
package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

type Compiler struct {
	compiler     *js.Compiler
	cache        *expirable.LRU[string, *js.Schema]
	refAllowlist []string
}

// NewCompilerWithCache creates a compiler whose compiled-schema cache
// holds up to maxSize entries for an hour. External $ref resolution is
// denied entirely: intake schemas are user-supplied.
func NewCompilerWithCache(maxSize int) *Compiler {
	return NewCompilerWithCacheAndAllowlist(maxSize, []string{"mem://*"})
}

// NewCompilerWithCacheAndAllowlist additionally allows $ref URLs matching
// the given patterns (exact, or prefix when ending in "*").
func NewCompilerWithCacheAndAllowlist(maxSize int, allowlist []string) *Compiler {
	c := js.NewCompiler()
	c.ExtractAnnotations = true

	return &Compiler{
		compiler:     c,
		cache:        expirable.NewLRU[string, *js.Schema](maxSize, nil, time.Hour),
		refAllowlist: allowlist,
	}
}

func (c *Compiler) key(schema map[string]interface{}) string {
	b, _ := json.Marshal(schema)
	return string(b)
}

// Prepare compiles and caches a schema, reporting compile errors early so
// a bad intake schema is rejected when the request is created, not when
// the first offer arrives.
func (c *Compiler) Prepare(ctx context.Context, schema map[string]interface{}) error {
	key := c.key(schema)
	if _, ok := c.cache.Get(key); ok {
		return nil
	}

	if err := c.validateRefs(schema); err != nil {
		return fmt.Errorf("$ref validation failed: %w", err)
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	// Hash-based resource URL; the schema document has no natural one.
	hash := fmt.Sprintf("%x", schemaBytes)
	resourceURL := fmt.Sprintf("mem://schema/%s.json", hash[:16])
	if err := c.compiler.AddResource(resourceURL, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("failed to add resource: %w", err)
	}

	compiled, err := c.compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	c.cache.Add(key, compiled)
	return nil
}

// Validate checks a value against a schema, compiling it first if it is
// not cached yet.
func (c *Compiler) Validate(ctx context.Context, schema map[string]interface{}, value map[string]interface{}) error {
	key := c.key(schema)
	compiled, ok := c.cache.Get(key)
	if !ok {
		if err := c.Prepare(ctx, schema); err != nil {
			return err
		}
		compiled, _ = c.cache.Get(key)
		if compiled == nil {
			return fmt.Errorf("schema not found in cache after preparation")
		}
	}

	// Round-trip through JSON so the validator sees plain decoded types.
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	var valueRaw interface{}
	if err := json.Unmarshal(valueBytes, &valueRaw); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	if err := compiled.Validate(valueRaw); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// validateRefs recursively checks all $ref URLs against the allowlist.
func (c *Compiler) validateRefs(schema interface{}) error {
	switch v := schema.(type) {
	case map[string]interface{}:
		if ref, ok := v["$ref"].(string); ok {
			if !c.isRefAllowed(ref) {
				return fmt.Errorf("$ref URL not allowed: %s", ref)
			}
		}
		for _, val := range v {
			if err := c.validateRefs(val); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range v {
			if err := c.validateRefs(item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Compiler) isRefAllowed(refURL string) bool {
	// Fragment-only refs point inside the same document.
	if strings.HasPrefix(refURL, "#") {
		return true
	}
	for _, pattern := range c.refAllowlist {
		if refURL == pattern {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(refURL, strings.TrimSuffix(pattern, "*")) {
			return true
		}
	}
	return false
}
