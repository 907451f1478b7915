package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchemas holds compiled response schemas by name. Tutor calls use
// a small fixed set (classification, one per action, critic, ranker), so
// the bound is generous.
var compiledSchemas, _ = lru.New[string, *jsonschema.Schema](64)

func compileSchema(s *Schema) (*jsonschema.Schema, error) {
	if c, ok := compiledSchemas.Get(s.Name); ok {
		return c, nil
	}

	// The compiler wants a decoded JSON value, not Go maps with typed
	// slices, so round-trip the definition.
	raw, err := json.Marshal(s.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}

	url := "mem://schemas/" + s.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	compiledSchemas.Add(s.Name, compiled)
	return compiled, nil
}

// checkContent reports whether raw is JSON conforming to s. A nil schema
// accepts anything.
func checkContent(s *Schema, raw json.RawMessage) error {
	if s == nil {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("not JSON: %w", err)
	}
	compiled, err := compileSchema(s)
	if err != nil {
		return fmt.Errorf("schema %q: %w", s.Name, err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("does not match %q: %w", s.Name, err)
	}
	return nil
}
