package api

import v1 "github.com/deployhub/deployhub/pkg/api/v1"

// Server defines the complete API of the daemon: apply manifests,
// manage images across the fleet, and keep projects.
type Server interface {
	v1.Server
}

// Builder defines the API each builder agent serves.
type Builder interface {
	v1.Builder
}
