package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/storyboard/enrich-go/cmd/drain"
	"github.com/storyboard/enrich-go/cmd/service"
	"github.com/storyboard/enrich-go/cmd/sweep"
	"github.com/storyboard/enrich-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "enrich",
		Short: "Attraction content enrichment pipeline",
		Long:  "Fetches reviews, photos, videos, nearby places, weather and crowd forecasts from external providers into the attraction catalog, resumably and idempotently.",
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		sweep.Command(settings),
		drain.Command(settings),
		service.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags configures the global flags for the root command.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Main.Debug, "debug", "d", viper.GetBool("main.debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if err := viper.Unmarshal(settings); err != nil {
			return fmt.Errorf("error unmarshaling settings: %w", err)
		}
		if strings.Contains(cmd.CommandPath(), "help") {
			return nil
		}
		return conf.ValidateSettings(settings)
	}
}
