package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey       = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderPrefer       = "Prefer"
	PreferRespondAsync = "respond-async"
	ContentTypeJSON    = "application/json"
	ContentTypeSSE     = "text/event-stream"
)

// API paths
const (
	PathHealthz       = "/healthz"
	PathSession       = "/v1/session"
	PathView          = "/v1/session/view"
	PathImage         = "/v1/session/image"
	PathQuickPick     = "/v1/session/quick-pick"
	PathTransform     = "/v1/session/transform"
	PathCancel        = "/v1/session/cancel"
	PathGallery       = "/v1/gallery"
	PathNotifications = "/v1/notifications"
	PathEvents        = "/v1/events"
	PathParticles     = "/v1/effects/particles"
)

// Defaults and limits
const (
	DefaultQueueCapacity = 1
	DefaultWorkerCount   = 1
	SQLiteBusyTimeoutMS  = 5000
	EnvPrefix            = "MORPHPORTAL_"
	EnvConfigPath        = "MORPHPORTAL_CONFIG"
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageJPG  = "image/jpg"
	MimeImageGIF  = "image/gif"
	MimeImageWEBP = "image/webp"
)

// Image sources
const (
	SourceUpload = "upload"
	SourceRemote = "remote"
)

// Callback status strings
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)
