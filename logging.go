package trammonitor

import (
	"log/slog"
	"os"
)

// InitLogging installs the process-wide structured logger.
func InitLogging() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}
