package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTagFilter(t *testing.T) {
	for _, tt := range []struct {
		expr    string
		str     string
		match   []string
		nomatch []string
	}{
		{expr: "*", str: "glob:*", match: []string{"latest", "v1.0.0", ""}},
		{expr: "glob:release-*", str: "glob:release-*", match: []string{"release-", "release-2"}, nomatch: []string{"pre-release-2"}},
		{expr: "semver:~1", str: "semver:~1", match: []string{"1.4.2", "v1.0.0"}, nomatch: []string{"2.0.0", "latest"}},
		{expr: "regexp:^v[0-9]+$", str: "regexp:^v[0-9]+$", match: []string{"v12"}, nomatch: []string{"v1.2"}},
		{expr: "regex:^v[0-9]+$", str: "regexp:^v[0-9]+$", match: []string{"v3"}, nomatch: []string{"x3"}},
	} {
		f, err := ParseTagFilter(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.str, f.String())
		for _, tag := range tt.match {
			assert.True(t, f.Matches(tag), "%s should match %q", tt.expr, tag)
		}
		for _, tag := range tt.nomatch {
			assert.False(t, f.Matches(tag), "%s should not match %q", tt.expr, tag)
		}
	}
}

func TestParseTagFilterErrors(t *testing.T) {
	for _, expr := range []string{"semver:not a constraint", "regexp:(", "regex:[a-"} {
		_, err := ParseTagFilter(expr)
		assert.Error(t, err, expr)
	}
}
