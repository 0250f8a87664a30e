// Package auth checks bearer tokens on requests to the daemon, and
// admits only whitelisted users.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-kit/kit/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	transport "github.com/deployhub/deployhub/pkg/http"
)

// WhitelistAll in a whitelist admits every authenticated user.
const WhitelistAll = "all"

type Config struct {
	// Secret is the HMAC key tokens are signed with.
	Secret string
	// JWKSURL is where to get the public keys tokens are signed with,
	// if not with Secret.
	JWKSURL   string
	Issuer    string
	Audience  string
	Whitelist []string
}

// Enabled says whether there's anything to check tokens against.
func (c Config) Enabled() bool {
	return c.Secret != "" || c.JWKSURL != ""
}

type Authenticator struct {
	config  Config
	keyfunc jwt.Keyfunc
	methods []string
	allowed map[string]bool
	anyone  bool
	logger  log.Logger
}

// New makes an Authenticator. If the config names a JWKS URL, the key
// set is fetched once, here.
func New(ctx context.Context, config Config, logger log.Logger) (*Authenticator, error) {
	a := &Authenticator{
		config:  config,
		allowed: map[string]bool{},
		logger:  logger,
	}
	a.anyone = len(config.Whitelist) == 0
	for _, user := range config.Whitelist {
		user = strings.ToLower(strings.TrimSpace(user))
		if user == WhitelistAll {
			a.anyone = true
		}
		a.allowed[user] = true
	}

	switch {
	case config.JWKSURL != "":
		keys, err := fetchKeySet(ctx, config.JWKSURL)
		if err != nil {
			return nil, err
		}
		a.keyfunc = keySetKeyfunc(keys)
		a.methods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256", "PS384", "PS512", "EdDSA"}
		logger.Log("info", "fetched token signing keys", "url", config.JWKSURL, "keys", len(keys.Keys))
	case config.Secret != "":
		secret := []byte(config.Secret)
		a.keyfunc = func(*jwt.Token) (interface{}, error) { return secret, nil }
		a.methods = []string{"HS256", "HS384", "HS512"}
	default:
		return nil, errors.New("no token secret or JWKS URL configured")
	}
	return a, nil
}

func fetchKeySet(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "constructing JWKS request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching JWKS from %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching JWKS from %s: %s", url, resp.Status)
	}
	var keys jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, errors.Wrap(err, "decoding JWKS")
	}
	if len(keys.Keys) == 0 {
		return nil, fmt.Errorf("JWKS from %s has no keys", url)
	}
	return &keys, nil
}

// keySetKeyfunc picks the key named by the token's kid header. A
// token without a kid can still be checked when there's only one key.
func keySetKeyfunc(keys *jose.JSONWebKeySet) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			if len(keys.Keys) == 1 {
				return keys.Keys[0].Public().Key, nil
			}
			return nil, errors.New("token has no kid, and there is more than one key")
		}
		found := keys.Key(kid)
		if len(found) == 0 {
			return nil, fmt.Errorf("no key with kid %q", kid)
		}
		return found[0].Public().Key, nil
	}
}

// Authenticate checks the token and gives the user it names.
func (a *Authenticator) Authenticate(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods(a.methods), jwt.WithExpirationRequired()}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.config.Audience))
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims, a.keyfunc, opts...); err != nil {
		return "", err
	}
	user := userFromClaims(claims)
	if user == "" {
		return "", errors.New("token names no user")
	}
	return user, nil
}

func userFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"loginname", "name", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Allowed says whether user may use the server.
func (a *Authenticator) Allowed(user string) bool {
	return a.anyone || a.allowed[strings.ToLower(user)]
}

type userKey struct{}

// UserFrom gives the authenticated user for a request, if there is one.
func UserFrom(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok
}

// bearerToken gives the token from an Authorization header. The
// scheme is matched without regard to case.
func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}

// Wrap makes next require a valid token from a whitelisted user,
// except for the paths given as exempt.
func (a *Authenticator) Wrap(next http.Handler, exempt ...string) http.Handler {
	skip := map[string]bool{}
	for _, p := range exempt {
		skip[p] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			transport.ErrorResponse(w, r, transport.ErrorUnauthorized)
			return
		}
		user, err := a.Authenticate(token)
		if err != nil {
			a.logger.Log("warn", "rejected token", "err", err, "path", r.URL.Path)
			transport.ErrorResponse(w, r, transport.ErrorUnauthorized)
			return
		}
		if !a.Allowed(user) {
			a.logger.Log("warn", "user not whitelisted", "user", user, "path", r.URL.Path)
			transport.ErrorResponse(w, r, transport.MakeForbidden(user))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}
