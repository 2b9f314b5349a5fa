package root

import "github.com/janisto/welcome-api/internal/platform/timeutil"

const (
	// WelcomeMessage is returned verbatim by GET /.
	WelcomeMessage = "Welcome to the API"
	// Version is the API version reported by GET / and the OpenAPI document.
	// It is independent of the build version of the server binary.
	Version = "1.0.0"
)

// Data models the welcome payload.
type Data struct {
	Message   string        `json:"message"   doc:"Welcome message"                     example:"Welcome to the API"`
	Version   string        `json:"version"   doc:"API version"                         example:"1.0.0"`
	Timestamp timeutil.Time `json:"timestamp" doc:"Server time the response was built" example:"2024-01-15T10:30:00.000Z"`
}
