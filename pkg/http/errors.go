package http

import (
	"errors"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

var ErrorUnauthorized = &dherr.Error{
	Type: dherr.Unauthorized,
	Help: `The request failed authentication

This most likely means you have a missing, expired or incorrect token.
Supply a bearer token with --token, or configure client credentials
for deployhubctl with --oauth-token-url, --oauth-client-id and
--oauth-client-secret.
`,
	Err: errors.New("request failed authentication"),
}

// MakeForbidden is for a caller who has a valid token, but isn't
// allowed to use this server.
func MakeForbidden(user string) *dherr.Error {
	return &dherr.Error{
		Type: dherr.Forbidden,
		Help: `The user ` + user + ` is not permitted to use this server.

Ask an administrator to add the user to the whitelist (--auth-whitelist).
`,
		Err: errors.New("user " + user + " is not whitelisted"),
	}
}

func MakeAPINotFound(path string) *dherr.Error {
	return &dherr.Error{
		Type: dherr.Missing,
		Help: `The API endpoint requested is not supported by this server.

This indicates that your client (probably deployhubctl) is either out
of date, or faulty. Check that it is the same version as the server
(deployhubctl version), and include this path when reporting it:

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}
