package manifests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	yamlv2 "gopkg.in/yaml.v2"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

// DefaultNamespace is used for documents that don't declare one.
const DefaultNamespace = "default"

// Operation is one document of a manifest, ready to be reconciled.
type Operation struct {
	Kind       string
	APIVersion string
	Namespace  string
	Name       string
	// Body is the whole document, re-serialised, so it doesn't
	// depend on the layout of the text it came from.
	Body []byte
}

// header is the part of a document needed to dispatch it; the rest
// stays opaque until it reaches the cluster.
type header struct {
	Kind       string `json:"kind"`
	APIVersion string `json:"apiVersion"`
	Metadata   struct {
		Name      string `json:"name"`
		Namespace string `json:"namespace"`
	} `json:"metadata"`
}

type Parser struct {
	sopsEnabled bool
}

type Option func(*Parser)

// WithSops makes the parser decrypt sops-encrypted input before
// parsing. Input that isn't encrypted is parsed as is.
func WithSops(enabled bool) Option {
	return func(p *Parser) {
		p.sopsEnabled = enabled
	}
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse splits a multidoc YAML into operations, in document
// order. A document missing its kind or name fails the whole parse,
// so nothing is applied from a malformed manifest.
func (p *Parser) Parse(multidoc []byte) ([]Operation, error) {
	if p.sopsEnabled {
		var err error
		if multidoc, err = softDecrypt(multidoc); err != nil {
			return nil, dherr.UserError(err)
		}
	}
	return ParseMultidoc(multidoc)
}

// ParseMultidoc is Parse without decryption.
func ParseMultidoc(multidoc []byte) ([]Operation, error) {
	var ops []Operation
	decoder := yamlv2.NewDecoder(bytes.NewReader(multidoc))
	for index := 1; ; index++ {
		// In order to use the decoder to extract raw documents
		// from the stream, we decode generically and encode again.
		// The result is the raw document from the stream
		// (pretty-printed and without comments)
		var val interface{}
		err := decoder.Decode(&val)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, dherr.UserError(errors.Wrapf(err, "parsing YAML document %d", index))
		}
		if val == nil {
			continue
		}
		body, err := yamlv2.Marshal(val)
		if err != nil {
			return nil, errors.Wrapf(err, "re-serialising YAML document %d", index)
		}
		op, err := parseDocument(body)
		if err != nil {
			return nil, dherr.UserError(errors.Wrapf(err, "document %d", index))
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseDocument(body []byte) (Operation, error) {
	asJSON, err := yaml.YAMLToJSON(body)
	if err != nil {
		return Operation{}, err
	}
	if err := validateHeader(asJSON); err != nil {
		return Operation{}, err
	}
	var h header
	if err := json.Unmarshal(asJSON, &h); err != nil {
		return Operation{}, err
	}
	namespace := h.Metadata.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Operation{
		Kind:       h.Kind,
		APIVersion: h.APIVersion,
		Namespace:  namespace,
		Name:       h.Metadata.Name,
		Body:       body,
	}, nil
}

func (op Operation) String() string {
	return fmt.Sprintf("%s:%s/%s", op.Namespace, op.Kind, op.Name)
}
