package manifests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv2 "gopkg.in/yaml.v2"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

const multidoc = `---
# a comment, which is dropped
apiVersion: v1
kind: Namespace
metadata:
  name: shop
---
apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: shop
spec:
  replicas: 2
---
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
data:
  colour: blue
`

func TestParseMultidoc(t *testing.T) {
	ops, err := ParseMultidoc([]byte(multidoc))
	require.NoError(t, err)
	require.Len(t, ops, 3, "empty documents are skipped")

	assert.Equal(t, "Namespace", ops[0].Kind)
	assert.Equal(t, "shop", ops[0].Name)

	assert.Equal(t, "Deployment", ops[1].Kind)
	assert.Equal(t, "apps/v1", ops[1].APIVersion)
	assert.Equal(t, "shop", ops[1].Namespace)
	assert.Equal(t, "web", ops[1].Name)

	assert.Equal(t, "ConfigMap", ops[2].Kind)
	assert.Equal(t, DefaultNamespace, ops[2].Namespace)
	assert.Equal(t, "default:ConfigMap/settings", ops[2].String())
}

func TestParseBodyIsCanonical(t *testing.T) {
	ops, err := ParseMultidoc([]byte(multidoc))
	require.NoError(t, err)

	assert.NotContains(t, string(ops[0].Body), "comment")
	var body map[string]interface{}
	require.NoError(t, yamlv2.Unmarshal(ops[1].Body, &body))
	spec := body["spec"].(map[interface{}]interface{})
	assert.Equal(t, 2, spec["replicas"])

	// a differently laid out document gives the same body
	relaid, err := ParseMultidoc([]byte(`{"kind": "Deployment", "apiVersion": "apps/v1", "spec": {"replicas": 2}, "metadata": {"namespace": "shop", "name": "web"}}`))
	require.NoError(t, err)
	assert.Equal(t, string(ops[1].Body), string(relaid[0].Body))
}

func TestParseMissingKindFailsWholeBatch(t *testing.T) {
	ops, err := ParseMultidoc([]byte(`kind: ConfigMap
metadata:
  name: ok
---
metadata:
  name: no-kind
`))
	assert.Nil(t, ops)
	require.Error(t, err)
	assert.True(t, dherr.IsUser(err))
	assert.Contains(t, err.Error(), "document 2")
}

func TestParseHeaderProblems(t *testing.T) {
	for name, doc := range map[string]string{
		"missing name":      "kind: ConfigMap\nmetadata: {}\n",
		"missing metadata":  "kind: ConfigMap\n",
		"empty kind":        "kind: ''\nmetadata:\n  name: x\n",
		"numeric namespace": "kind: ConfigMap\nmetadata:\n  name: x\n  namespace: 7\n",
		"not a mapping":     "just text\n",
		"bad yaml":          "kind: [unclosed\n",
	} {
		_, err := ParseMultidoc([]byte(doc))
		assert.True(t, dherr.IsUser(err), "%s: %v", name, err)
	}
}

func TestParseEmpty(t *testing.T) {
	ops, err := ParseMultidoc([]byte(""))
	assert.NoError(t, err)
	assert.Empty(t, ops)
}

func TestParserWithSopsPassesPlainInput(t *testing.T) {
	ops, err := NewParser(WithSops(true)).Parse([]byte(multidoc))
	require.NoError(t, err)
	assert.Len(t, ops, 3)
}
