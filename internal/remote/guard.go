package remote

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zeebo/blake3"
)

// SchemaGuard validates record payloads against collection schemas. Compiled
// schemas are cached by content digest, so backends can hand it raw schema
// bytes on every write.
type SchemaGuard struct {
	cache sync.Map // digest -> *jsonschema.Schema
}

func Fingerprint(schema []byte) string {
	sum := blake3.Sum256(schema)
	return hex.EncodeToString(sum[:16])
}

func (g *SchemaGuard) Compile(schema []byte) (*jsonschema.Schema, error) {
	key := Fingerprint(schema)
	if v, ok := g.cache.Load(key); ok {
		return v.(*jsonschema.Schema), nil
	}
	ref := "resilientroute://collections/" + key + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(ref, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	sch, err := c.Compile(ref)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	g.cache.Store(key, sch)
	return sch, nil
}

// Check validates every payload against schema. The first failing record is
// reported wrapped in ErrSchemaMismatch.
func (g *SchemaGuard) Check(schema []byte, records []Record) error {
	sch, err := g.Compile(schema)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("remote: record without id")
		}
		var doc any
		if err := json.Unmarshal(r.Payload, &doc); err != nil {
			return fmt.Errorf("%w: record %s: payload is not JSON: %v", ErrSchemaMismatch, r.ID, err)
		}
		if err := sch.Validate(doc); err != nil {
			return fmt.Errorf("%w: record %s: %v", ErrSchemaMismatch, r.ID, err)
		}
	}
	return nil
}
