package main

import (
	"log/slog"
	"os"

	"github.com/pyama86/firefighter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		slog.Error("firefighter exited", slog.Any("error", err))
		os.Exit(1)
	}
}
