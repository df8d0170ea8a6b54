package main

import (
	"log/slog"

	"github.com/BioHazard786/warproom/internal/commands"
	"github.com/BioHazard786/warproom/internal/logging"
)

func main() {
	// Errors only by default so log lines stay out of the chat view.
	logging.Init(slog.LevelError)
	commands.Execute()
}
