package main

import (
	"fmt"
	"os"

	"github.com/storyboard/enrich-go/cmd"
	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(settings.Main.Debug)
	if settings.Main.LogDir != "" {
		logging.EnableFileLogging(settings.Main.LogDir)
	}

	rootCmd := cmd.RootCommand(settings)
	err = rootCmd.Execute()
	logging.CloseFileLoggers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "command error: %v\n", err)
		os.Exit(1)
	}
}
