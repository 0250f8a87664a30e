package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is the representation of errors in the API. Errors are
// divided into a small number of categories, according to whose
// fault the error is:
//  - a problem with the service or a collaborator, so worth retrying?
//  - something that does not exist (a project, a tag, an image)?
//  - a request that cannot succeed until the user changes it?
type Error struct {
	Type Type
	// a message that can be printed out for the user
	Help string `json:"help"`
	// the underlying error that can be e.g., logged for developers to look at
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Type)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Type string

const (
	// The operation looked fine on paper, but something went wrong
	Server Type = "server"
	// The thing you mentioned, whatever it is, just doesn't exist
	Missing Type = "missing"
	// The operation was well-formed, but you asked for something that
	// can't happen (e.g., a duplicate tag, or malformed YAML)
	User Type = "user"
	// The request carried no valid credentials
	Unauthorized Type = "unauthorized"
	// The credentials were valid, but the user is not allowed in
	Forbidden Type = "forbidden"
)

func IsMissing(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == Missing
}

func IsUser(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == User
}

// MissingError is a convenience for the common case of a named
// thing that could not be found.
func MissingError(what string, err error) *Error {
	return &Error{
		Type: Missing,
		Err:  err,
		Help: fmt.Sprintf("%s not found\n\n%s\n", what, err),
	}
}

// UserError wraps err as a user error, with the error text as help.
func UserError(err error) *Error {
	return &Error{
		Type: User,
		Err:  err,
		Help: err.Error() + "\n",
	}
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{
		Type: string(e.Type),
		Help: e.Help,
		Err:  errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Type = Type(jsonable.Type)
	e.Help = jsonable.Help
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}

func CoverAllError(err error) *Error {
	return &Error{
		Type: Server,
		Err:  err,
		Help: `Error: ` + err.Error() + `

We don't have a specific help message for the error above.

Check the deployhubd logs around the time of the request; the same
error will be logged there with more context.
`,
	}
}
