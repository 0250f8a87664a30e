package kubernetes

import (
	"fmt"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

func UnsupportedKindError(kind string) *dherr.Error {
	return &dherr.Error{
		Type: dherr.User,
		Err:  fmt.Errorf("resource kind %q not supported", kind),
		Help: `deployhub does not support applying ` + kind + ` resources.

Either the kind is misspelled (kinds are case-sensitive, e.g.,
"ConfigMap" rather than "configmap"), or it is a kind that deployhub
has no client for, such as a custom resource. Documents after this one
in the same manifest were not applied.
`,
	}
}
