package cmd

import (
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

var logger *slog.Logger

// initLogging installs a colored terminal handler; --verbose enables debug output.
func initLogging() {
	level := charmlog.InfoLevel
	if viper.GetBool("verbose") {
		level = charmlog.DebugLevel
	}

	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}
