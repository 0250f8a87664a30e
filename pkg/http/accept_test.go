package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiateContentType(t *testing.T) {
	vrml := "x-world/x-vrml"

	// no Accept header gets the first offer
	assert.Equal(t, vrml, negotiateContentType(&http.Request{}, []string{vrml}))

	// Accept headers, but none match
	h := http.Header{}
	h.Add("Accept", "application/json;q=1.0,text/html;q=0.9")
	h.Add("Accept", "text/plain")
	assert.Equal(t, "", negotiateContentType(&http.Request{Header: h}, []string{vrml}))

	// equal quality: first preference
	h = http.Header{}
	h.Add("Accept", "application/json,x-world/x-vrml,text/html")
	assert.Equal(t, vrml, negotiateContentType(&http.Request{Header: h}, []string{vrml, "application/json"}))

	// quality beats preference
	h = http.Header{}
	h.Add("Accept", "application/json;q=0.5,text/html;q=1.0")
	assert.Equal(t, "text/html", negotiateContentType(&http.Request{Header: h}, []string{"application/json", "text/html"}))
}
