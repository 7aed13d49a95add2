// SPDX-License-Identifier: Apache-2.0

package bundleloader

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed meta.schema.json
var metaSchemaJSON []byte

const metaSchemaID = "https://pgevodb.dev/schema/meta.json"

var (
	metaSchemaOnce sync.Once
	metaSchema     *jsonschema.Schema
	metaSchemaErr  error
)

func compiledMetaSchema() (*jsonschema.Schema, error) {
	metaSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(metaSchemaID, bytes.NewReader(metaSchemaJSON)); err != nil {
			metaSchemaErr = fmt.Errorf("loading meta.yaml schema: %w", err)
			return
		}
		sch, err := c.Compile(metaSchemaID)
		if err != nil {
			metaSchemaErr = fmt.Errorf("compiling meta.yaml schema: %w", err)
			return
		}
		metaSchema = sch
	})
	return metaSchema, metaSchemaErr
}

// validateMetaDocument checks a parsed meta.yaml document (as produced by
// sigs.k8s.io/yaml, i.e. JSON-compatible map[string]any) against the
// recognised-keys schema, rejecting unknown keys and wrong types up front
// rather than letting them pass through silently.
func validateMetaDocument(doc any) error {
	sch, err := compiledMetaSchema()
	if err != nil {
		return err
	}
	return sch.Validate(doc)
}
