package image

import (
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/pkg/errors"
)

const defaultTag = "latest"

// Ref is an image reference as reported by a container runtime, split
// into the repository name and the tag.
type Ref struct {
	Name string
	Tag  string
}

// ParseRef splits a reference of the form `repo[:tag]`. It never
// fails: a colon only counts as a tag separator if it's not the
// first character and nothing after it contains a slash, so a
// registry port (`myregistry.com:5000/myapp`) is left as part of the
// name. Anything without a recognisable tag gets `latest`.
func ParseRef(s string) Ref {
	i := strings.LastIndex(s, ":")
	if i > 0 && !strings.Contains(s[i+1:], "/") {
		return Ref{Name: s[:i], Tag: s[i+1:]}
	}
	return Ref{Name: s, Tag: defaultTag}
}

// String gives the `name:tag` form, which is also the key under which
// images from different nodes are merged.
func (r Ref) String() string {
	return r.Name + ":" + r.Tag
}

// ValidateTag checks that tag is something the container runtime will
// accept as an image tag (e.g., `registry:5000/team/app:v1`).
func ValidateTag(tag string) error {
	if tag == "" {
		return errors.New("empty image tag")
	}
	if _, err := name.NewTag(tag, name.WeakValidation); err != nil {
		return errors.Wrapf(err, "invalid image tag %q", tag)
	}
	return nil
}

// Summary is one entry of a node's image list.
type Summary struct {
	ID      string    `json:"id"`
	Tags    []string  `json:"tags"`
	Created time.Time `json:"created"`
	Size    int64     `json:"size"`
}

// Details is the result of inspecting an image on one node.
type Details struct {
	ID           string      `json:"id"`
	Tags         []string    `json:"tags"`
	Created      string      `json:"created"`
	Size         int64       `json:"size"`
	Architecture string      `json:"architecture"`
	OS           string      `json:"os"`
	Config       interface{} `json:"config,omitempty"`
}
