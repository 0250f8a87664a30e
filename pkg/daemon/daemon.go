package daemon

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/deployhub/deployhub/pkg/api"
	v1 "github.com/deployhub/deployhub/pkg/api/v1"
	dherr "github.com/deployhub/deployhub/pkg/errors"
	"github.com/deployhub/deployhub/pkg/image"
	"github.com/deployhub/deployhub/pkg/manifests"
	"github.com/deployhub/deployhub/pkg/project"
	"github.com/deployhub/deployhub/pkg/storage"
)

// Cluster is what the daemon needs of the Kubernetes API.
type Cluster interface {
	Ping(ctx context.Context) error
	Reconcile(ctx context.Context, operation v1.ResourceOperation, ops []manifests.Operation) []v1.ResourceOutcome
}

// Fleet is what the daemon needs of the builder nodes.
type Fleet interface {
	Build(ctx context.Context, imageTag, fileName string) []v1.PeerResult
	Delete(ctx context.Context, imageName string) []v1.PeerResult
	Inspect(ctx context.Context, imageName string) []v1.PeerResult
	List(ctx context.Context) []image.Merged
}

// ProjectStore keeps projects and their deployment configs.
type ProjectStore interface {
	List(ctx context.Context) ([]project.Project, error)
	Get(ctx context.Context, id string) (project.Project, error)
	Create(ctx context.Context, name, description string) (project.Project, error)
	Update(ctx context.Context, id, name, description string) (project.Project, error)
	Delete(ctx context.Context, id string) error

	AddConfig(ctx context.Context, projectID, tag, content, description string) (project.Config, error)
	UpdateCurrentConfig(ctx context.Context, projectID, content, description string) (project.Config, error)
	History(ctx context.Context, projectID string) ([]project.Config, error)
	ConfigByTag(ctx context.Context, projectID, tag string) (project.Config, error)
	CurrentConfig(ctx context.Context, projectID string) (project.Config, error)
	Rollback(ctx context.Context, projectID, tag string) error
	DeleteConfig(ctx context.Context, projectID, tag string) error
}

// Daemon ties together the manifest parser, the cluster, the fleet of
// builders, the object store and the project store to serve the API.
type Daemon struct {
	V        string
	Cluster  Cluster
	Parser   *manifests.Parser
	Fleet    Fleet
	Storage  storage.Store
	Bucket   string
	Projects ProjectStore
	Logger   log.Logger
}

// Invariant.
var _ api.Server = &Daemon{}

func (d *Daemon) Version(ctx context.Context) (string, error) {
	return d.V, nil
}

func (d *Daemon) Ping(ctx context.Context) error {
	return d.Cluster.Ping(ctx)
}

// ApplyResources parses the manifest and applies (or deletes) every
// document in it. A manifest that doesn't parse is rejected before
// anything is applied. Otherwise there's an outcome per document
// reconciled, and it's for the caller to look for failures among
// them.
func (d *Daemon) ApplyResources(ctx context.Context, req v1.ResourceRequest) ([]v1.ResourceOutcome, error) {
	operation := req.Operation
	switch operation {
	case "":
		operation = v1.CreateOrUpdate
	case v1.CreateOrUpdate, v1.Delete:
	default:
		return nil, dherr.UserError(errors.Errorf("unknown operation %q; expected %q or %q", req.Operation, v1.CreateOrUpdate, v1.Delete))
	}
	if strings.TrimSpace(req.ManifestText) == "" {
		return nil, dherr.UserError(errors.New("manifest is empty"))
	}

	ops, err := d.Parser.Parse([]byte(req.ManifestText))
	if err != nil {
		return nil, err
	}
	outcomes := d.Cluster.Reconcile(ctx, operation, ops)
	if v1.Failed(outcomes) {
		d.Logger.Log("warn", "manifest partly failed", "operation", operation, "documents", len(ops), "outcomes", len(outcomes))
	} else {
		d.Logger.Log("info", "manifest applied", "operation", operation, "documents", len(ops))
	}
	return outcomes, nil
}

// ---

func (d *Daemon) BuildImage(ctx context.Context, req v1.BuildRequest) ([]v1.PeerResult, error) {
	if err := image.ValidateTag(req.ImageTag); err != nil {
		return nil, dherr.UserError(err)
	}
	if req.SourceObjectName == "" {
		return nil, dherr.UserError(errors.New("sourceObjectName is required"))
	}
	return d.Fleet.Build(ctx, req.ImageTag, req.SourceObjectName), nil
}

// UploadImage stores the build context, then has every node build it.
func (d *Daemon) UploadImage(ctx context.Context, req v1.UploadRequest) ([]v1.PeerResult, error) {
	if err := image.ValidateTag(req.ImageTag); err != nil {
		return nil, dherr.UserError(err)
	}
	if !strings.EqualFold(filepath.Ext(req.FileName), ".tar") {
		return nil, dherr.UserError(errors.Errorf("file %q is not a .tar archive", req.FileName))
	}
	if req.Body == nil {
		return nil, dherr.UserError(errors.New("no file uploaded"))
	}

	objectName := storage.ObjectName(filepath.Base(req.FileName), req.ImageTag)
	if err := d.Storage.Upload(ctx, d.Bucket, objectName, req.Body); err != nil {
		return nil, errors.Wrap(err, "storing build context")
	}
	d.Logger.Log("info", "stored build context", "object", objectName, "size", req.Size)
	return d.Fleet.Build(ctx, req.ImageTag, objectName), nil
}

func (d *Daemon) DeleteImage(ctx context.Context, imageName string) ([]v1.PeerResult, error) {
	if imageName == "" {
		return nil, dherr.UserError(errors.New("imageName is required"))
	}
	return d.Fleet.Delete(ctx, imageName), nil
}

func (d *Daemon) InspectImage(ctx context.Context, imageName string) ([]v1.PeerResult, error) {
	if imageName == "" {
		return nil, dherr.UserError(errors.New("imageName is required"))
	}
	return d.Fleet.Inspect(ctx, imageName), nil
}

func (d *Daemon) ListImages(ctx context.Context, opts v1.ListImagesOptions) ([]image.Merged, error) {
	var filter image.TagFilter
	if opts.TagPattern != "" {
		f, err := image.ParseTagFilter(opts.TagPattern)
		if err != nil {
			return nil, dherr.UserError(errors.Wrap(err, "invalid tag filter"))
		}
		filter = f
	}
	return image.Filter(d.Fleet.List(ctx), filter), nil
}

// ---

func (d *Daemon) ListProjects(ctx context.Context) ([]project.Project, error) {
	return d.Projects.List(ctx)
}

func (d *Daemon) GetProject(ctx context.Context, id string) (project.Project, error) {
	return d.Projects.Get(ctx, id)
}

func (d *Daemon) CreateProject(ctx context.Context, p v1.NewProject) (project.Project, error) {
	return d.Projects.Create(ctx, p.Name, p.Description)
}

func (d *Daemon) UpdateProject(ctx context.Context, id string, p v1.NewProject) (project.Project, error) {
	return d.Projects.Update(ctx, id, p.Name, p.Description)
}

func (d *Daemon) DeleteProject(ctx context.Context, id string) error {
	return d.Projects.Delete(ctx, id)
}

func (d *Daemon) ListConfigs(ctx context.Context, projectID string) ([]project.Config, error) {
	return d.Projects.History(ctx, projectID)
}

func (d *Daemon) AddConfig(ctx context.Context, projectID string, c v1.NewConfig) (project.Config, error) {
	return d.Projects.AddConfig(ctx, projectID, c.Tag, c.YAML, c.Description)
}

func (d *Daemon) GetConfig(ctx context.Context, projectID, tag string) (project.Config, error) {
	return d.Projects.ConfigByTag(ctx, projectID, tag)
}

func (d *Daemon) DeleteConfig(ctx context.Context, projectID, tag string) error {
	return d.Projects.DeleteConfig(ctx, projectID, tag)
}

func (d *Daemon) CurrentConfig(ctx context.Context, projectID string) (project.Config, error) {
	return d.Projects.CurrentConfig(ctx, projectID)
}

func (d *Daemon) UpdateCurrentConfig(ctx context.Context, projectID string, c v1.NewConfig) (project.Config, error) {
	return d.Projects.UpdateCurrentConfig(ctx, projectID, c.YAML, c.Description)
}

func (d *Daemon) Rollback(ctx context.Context, projectID, tag string) error {
	if tag == "" {
		return dherr.UserError(errors.New("tag is required"))
	}
	return d.Projects.Rollback(ctx, projectID, tag)
}

// DeployProject applies the project's current config to the cluster.
func (d *Daemon) DeployProject(ctx context.Context, projectID string) ([]v1.ResourceOutcome, error) {
	config, err := d.Projects.CurrentConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	d.Logger.Log("info", "deploying project", "project", projectID, "tag", config.Tag)
	return d.ApplyResources(ctx, v1.ResourceRequest{
		ManifestText: config.YAML,
		Operation:    v1.CreateOrUpdate,
	})
}
