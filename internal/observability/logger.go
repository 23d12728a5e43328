package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/trictl/internal/logging"
)

// InitLogger applies the runtime logging profile and tags the global
// logger with the app name. Logs go to stderr so rendered matrix
// output on stdout stays clean.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
