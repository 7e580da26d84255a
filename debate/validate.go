package debate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/debatemesh/core"
	"github.com/xeipuuv/gojsonschema"
)

// validateOutput checks a participant answer against the task schema before
// it can take part in reconciliation. An answer that misses the schema is a
// participant failure, not a routing failure.
func validateOutput(schema json.RawMessage, out core.Output) error {
	if len(schema) == 0 {
		return nil
	}
	if out.Kind != core.OutputStructured {
		return fmt.Errorf("structured answer required, got %s", out.Kind)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(out.Object),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return fmt.Errorf("answer violates schema: %s", strings.Join(issues, "; "))
	}

	return nil
}
