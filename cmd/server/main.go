package main

import (
	"log/slog"

	"github.com/BioHazard786/warproom/internal/commands"
	"github.com/BioHazard786/warproom/internal/logging"
)

func main() {
	logging.Init(slog.LevelInfo)
	commands.ExecuteServer()
}
