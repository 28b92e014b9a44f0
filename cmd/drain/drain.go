// Package drain implements the one-shot quota queue drain command.
package drain

import (
	"github.com/spf13/cobra"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/pipeline"
)

// Command creates the drain command. One invocation retries every due quota
// retry entry once and exits.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Drain the quota retry queue once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := pipeline.New(settings)
			if err != nil {
				return err
			}
			defer p.Close()

			_, err = p.Orchestrator.DrainQuotaQueue(cmd.Context())
			return err
		},
	}
}
