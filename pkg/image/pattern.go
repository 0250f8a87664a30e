package image

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"github.com/ryanuber/go-glob"
)

// Tag filter expressions are `glob:<glob>`, `semver:<constraint>` or
// `regexp:<re>` (also `regex:`). No prefix means a glob.
const (
	globPrefix      = "glob:"
	semverPrefix    = "semver:"
	regexpPrefix    = "regexp:"
	regexpAltPrefix = "regex:"
)

// MatchAll lets every tag through.
var MatchAll TagFilter = globFilter("*")

// TagFilter selects image tags, e.g., for `GET /images?tag=`.
type TagFilter interface {
	Matches(tag string) bool
	// String gives the expression back, with its prefix.
	String() string
}

// ParseTagFilter reads a tag filter expression. An expression that
// doesn't compile is an error here, rather than a filter that
// matches nothing.
func ParseTagFilter(expr string) (TagFilter, error) {
	switch {
	case strings.HasPrefix(expr, semverPrefix):
		constraint := strings.TrimPrefix(expr, semverPrefix)
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return nil, errors.Wrapf(err, "semver constraint %q", constraint)
		}
		return semverFilter{constraint, c}, nil
	case strings.HasPrefix(expr, regexpPrefix), strings.HasPrefix(expr, regexpAltPrefix):
		source := expr[strings.Index(expr, ":")+1:]
		re, err := regexp.Compile(source)
		if err != nil {
			return nil, errors.Wrapf(err, "regular expression %q", source)
		}
		return regexpFilter{re}, nil
	default:
		return globFilter(strings.TrimPrefix(expr, globPrefix)), nil
	}
}

type globFilter string

func (g globFilter) Matches(tag string) bool { return glob.Glob(string(g), tag) }
func (g globFilter) String() string          { return globPrefix + string(g) }

// semverFilter only lets through tags that parse as versions, so
// `latest` and friends never match.
type semverFilter struct {
	constraint string
	c          *semver.Constraints
}

func (s semverFilter) Matches(tag string) bool {
	v, err := semver.NewVersion(tag)
	return err == nil && s.c.Check(v)
}

func (s semverFilter) String() string { return semverPrefix + s.constraint }

type regexpFilter struct {
	re *regexp.Regexp
}

func (r regexpFilter) Matches(tag string) bool { return r.re.MatchString(tag) }
func (r regexpFilter) String() string          { return regexpPrefix + r.re.String() }
