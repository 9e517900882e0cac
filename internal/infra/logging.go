// README: zap logger bootstrap shared by the API and worker binaries.
package infra

import (
	"os"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. DISPATCH_LOG_LEVEL=debug switches
// to the development config.
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("DISPATCH_LOG_LEVEL") == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
