package kde

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// init sets the global zerolog level from the KDE_LOG environment variable:
// "off" or "0" disables logging, "full" or "debug" enables debug output,
// anything else keeps info.
func init() {
	zerolog.SetGlobalLevel(logLevel(os.Getenv("KDE_LOG")))
}

func logLevel(setting string) zerolog.Level {
	switch strings.TrimSpace(strings.ToLower(setting)) {
	case "off", "0":
		return zerolog.Disabled
	case "full", "debug":
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
