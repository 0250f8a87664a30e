package project

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

// Project groups the versioned deployment configs of one
// application. At most one config is current.
type Project struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
	CurrentConfigID string     `json:"currentConfigId,omitempty"`
}

// Config is one tagged version of a project's manifests.
type Config struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Tag         string     `json:"tag"`
	YAML        string     `json:"yaml"`
	Description string     `json:"description"`
	IsCurrent   bool       `json:"isCurrent"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// ValidateYAML checks that content is one or more YAML documents,
// each of them a mapping or a sequence.
func ValidateYAML(content string) error {
	if strings.TrimSpace(content) == "" {
		return invalid(errors.New("YAML content is empty"))
	}
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	var n int
	for {
		var doc interface{}
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return invalid(errors.Wrap(err, "YAML syntax error"))
		}
		n++
		switch doc.(type) {
		case map[interface{}]interface{}, []interface{}:
		case nil:
			return invalid(fmt.Errorf("document %d is empty", n))
		default:
			return invalid(fmt.Errorf("document %d must be a mapping or a sequence, not %T", n, doc))
		}
	}
	if n == 0 {
		return invalid(errors.New("YAML contains no documents"))
	}
	return nil
}

func invalid(err error) *dherr.Error {
	return &dherr.Error{
		Type: dherr.User,
		Err:  err,
		Help: "The deployment config is not valid YAML: " + err.Error() + `

A deployment config must hold one or more YAML documents (separated
by "---"), each of which is a mapping, such as a Kubernetes manifest.
`,
	}
}

func projectMissing(id string) *dherr.Error {
	return dherr.MissingError("project", fmt.Errorf("no project with id %q", id))
}

func configMissing(projectID, tag string) *dherr.Error {
	return dherr.MissingError("deployment config", fmt.Errorf("no config tagged %q in project %q", tag, projectID))
}

func noCurrentConfig(projectID string) *dherr.Error {
	return dherr.MissingError("current deployment config", fmt.Errorf("project %q has no current config; roll back to a tag first", projectID))
}
