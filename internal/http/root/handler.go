package root

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	applog "github.com/janisto/welcome-api/internal/platform/logging"
	"github.com/janisto/welcome-api/internal/platform/timeutil"
)

// Register wires the welcome operation into the provided API.
func Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-root",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Welcome message",
		Description: "Returns a static welcome message, the API version, and the current server time.",
		Tags:        []string{"Root"},
	}, getHandler)
}

func getHandler(ctx context.Context, _ *struct{}) (*GetOutput, error) {
	applog.LogDebug(ctx, "root get", zap.String("path", "/"))
	return &GetOutput{Body: Data{
		Message:   WelcomeMessage,
		Version:   Version,
		Timestamp: timeutil.Now(),
	}}, nil
}
