package manifests

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// headerSchema is what every document must have before it can be
// dispatched to a resource kind.
const headerSchema = `{
  "type": "object",
  "required": ["kind", "metadata"],
  "properties": {
    "kind": {"type": "string", "minLength": 1},
    "apiVersion": {"type": "string"},
    "metadata": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "namespace": {"type": "string"}
      }
    }
  }
}`

var headerSchemaLoader = gojsonschema.NewStringLoader(headerSchema)

func validateHeader(doc []byte) error {
	result, err := gojsonschema.Validate(headerSchemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.Wrap(err, "validating manifest header")
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return errors.New(strings.Join(problems, "; "))
}
