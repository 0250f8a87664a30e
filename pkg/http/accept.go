package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// negotiateContentType picks one of the offered content types,
// in order of preference, using the request's Accept header. Higher
// quality (`q`) wins; between equal qualities, the earlier offer
// wins. No Accept header at all gets the first offer, and an Accept
// header naming none of the offers gets "".
func negotiateContentType(r *http.Request, offers []string) string {
	specs := header.ParseAccept(r.Header, "Accept")
	if len(specs) == 0 {
		return offers[0]
	}

	var acceptable []header.AcceptSpec
	for _, spec := range specs {
		if rank(offers, spec.Value) < len(offers) {
			acceptable = append(acceptable, spec)
		}
	}
	if len(acceptable) == 0 {
		return ""
	}
	sort.SliceStable(acceptable, func(i, j int) bool {
		if acceptable[i].Q != acceptable[j].Q {
			return acceptable[i].Q > acceptable[j].Q
		}
		return rank(offers, acceptable[i].Value) < rank(offers, acceptable[j].Value)
	})
	return acceptable[0].Value
}

// rank gives the position of search in offers, or len(offers) if it's
// not there, so that absent values sort last.
func rank(offers []string, search string) int {
	for i, s := range offers {
		if s == search {
			return i
		}
	}
	return len(offers)
}
