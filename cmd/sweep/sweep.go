// Package sweep implements the one-shot sweep command.
package sweep

import (
	"github.com/spf13/cobra"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/pipeline"
)

// Command creates the sweep command. One invocation runs a single sweep:
// stale run recovery, fetch state seeding and one batch of due fetch runs.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one enrichment sweep and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := pipeline.New(settings)
			if err != nil {
				return err
			}
			defer p.Close()

			_, err = p.Orchestrator.RunSweep(cmd.Context())
			return err
		},
	}
}
