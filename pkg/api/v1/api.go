// This package defines the types for deployhub API version 1.
package v1

import (
	"context"
	"encoding/json"
	"io"

	"github.com/deployhub/deployhub/pkg/image"
	"github.com/deployhub/deployhub/pkg/project"
)

// ResourceOperation says what to do with the documents of a manifest.
type ResourceOperation string

const (
	CreateOrUpdate ResourceOperation = "CreateOrUpdate"
	Delete         ResourceOperation = "Delete"
)

type ResourceRequest struct {
	ManifestText string            `json:"manifestText"`
	Operation    ResourceOperation `json:"operation"`
}

// ResourceResult is the outcome of reconciling one document.
type ResourceResult string

const (
	ResultCreated          ResourceResult = "Created"
	ResultUpdated          ResourceResult = "Updated"
	ResultDeleted          ResourceResult = "Deleted"
	ResultNotFoundOnDelete ResourceResult = "NotFoundOnDelete"
	ResultFailed           ResourceResult = "Failed"
)

type ResourceOutcome struct {
	Kind      string         `json:"kind"`
	Name      string         `json:"name,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
	Message   string         `json:"message"`
	Result    ResourceResult `json:"result"`
}

// Failed reports whether any outcome in the batch failed.
func Failed(outcomes []ResourceOutcome) bool {
	for _, o := range outcomes {
		if o.Result == ResultFailed {
			return true
		}
	}
	return false
}

type BuildRequest struct {
	ImageTag         string `json:"imageTag"`
	SourceObjectName string `json:"sourceObjectName"`
}

// UploadRequest carries a build context (a tar archive) to be stored
// and then built on every node.
type UploadRequest struct {
	FileName string
	ImageTag string
	Size     int64
	Body     io.Reader
}

type ListImagesOptions struct {
	// TagPattern restricts the result to tags matching a glob:,
	// semver: or regexp: pattern.
	TagPattern string
}

// PeerResult is what one builder node answered to a fanout request.
type PeerResult struct {
	IP         string          `json:"ip"`
	Host       string          `json:"host"`
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type NewProject struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type NewConfig struct {
	Tag         string `json:"tag"`
	YAML        string `json:"yaml"`
	Description string `json:"description"`
}

type Resources interface {
	ApplyResources(ctx context.Context, req ResourceRequest) ([]ResourceOutcome, error)
}

type Images interface {
	BuildImage(ctx context.Context, req BuildRequest) ([]PeerResult, error)
	UploadImage(ctx context.Context, req UploadRequest) ([]PeerResult, error)
	DeleteImage(ctx context.Context, imageName string) ([]PeerResult, error)
	ListImages(ctx context.Context, opts ListImagesOptions) ([]image.Merged, error)
	InspectImage(ctx context.Context, imageName string) ([]PeerResult, error)
}

type Projects interface {
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (project.Project, error)
	CreateProject(ctx context.Context, p NewProject) (project.Project, error)
	UpdateProject(ctx context.Context, id string, p NewProject) (project.Project, error)
	DeleteProject(ctx context.Context, id string) error

	ListConfigs(ctx context.Context, projectID string) ([]project.Config, error)
	AddConfig(ctx context.Context, projectID string, c NewConfig) (project.Config, error)
	GetConfig(ctx context.Context, projectID, tag string) (project.Config, error)
	DeleteConfig(ctx context.Context, projectID, tag string) error
	CurrentConfig(ctx context.Context, projectID string) (project.Config, error)
	UpdateCurrentConfig(ctx context.Context, projectID string, c NewConfig) (project.Config, error)
	Rollback(ctx context.Context, projectID, tag string) error
	DeployProject(ctx context.Context, projectID string) ([]ResourceOutcome, error)
}

type Server interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)

	Resources
	Images
	Projects
}

// --- builder agent

type BuilderBuildRequest struct {
	ImageTag string `json:"imageTag"`
	FileName string `json:"fileName"`
}

// BuilderResponse is the answer to a build or delete.
type BuilderResponse struct {
	Message string `json:"message"`
	NodeIP  string `json:"nodeIp"`
}

type ListImagesResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Images  []image.Summary `json:"images"`
	NodeIP  string          `json:"nodeIp"`
}

type InspectImageResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Image   *image.Details `json:"image"`
	NodeIP  string         `json:"nodeIp"`
}

// Builder is served by the builder agent on each node. Failures are
// reported in the responses, with the error saying what kind of
// failure it was.
type Builder interface {
	Build(ctx context.Context, req BuilderBuildRequest) (BuilderResponse, error)
	Delete(ctx context.Context, imageName string) (BuilderResponse, error)
	List(ctx context.Context) (ListImagesResponse, error)
	Inspect(ctx context.Context, imageName string) (InspectImageResponse, error)
}
