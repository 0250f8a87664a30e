package http

// Daemon routes.
const (
	Ping    = "Ping"
	Version = "Version"

	ApplyResources = "ApplyResources"

	BuildImage   = "BuildImage"
	UploadImage  = "UploadImage"
	DeleteImage  = "DeleteImage"
	ListImages   = "ListImages"
	InspectImage = "InspectImage"

	ListProjects  = "ListProjects"
	CreateProject = "CreateProject"
	GetProject    = "GetProject"
	UpdateProject = "UpdateProject"
	DeleteProject = "DeleteProject"
	DeployProject = "DeployProject"

	ListConfigs         = "ListConfigs"
	AddConfig           = "AddConfig"
	CurrentConfig       = "CurrentConfig"
	UpdateCurrentConfig = "UpdateCurrentConfig"
	GetConfig           = "GetConfig"
	DeleteConfig        = "DeleteConfig"
	Rollback            = "Rollback"
)

// Builder agent routes. These are served by every node in the fleet,
// and called by the daemon.
const (
	BuilderBuild   = "BuilderBuild"
	BuilderDelete  = "BuilderDelete"
	BuilderList    = "BuilderList"
	BuilderInspect = "BuilderInspect"
)
