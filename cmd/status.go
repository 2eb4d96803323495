package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brogergvhs/mangabind/internal/checkpoint"
	"github.com/brogergvhs/mangabind/internal/config"

	"github.com/spf13/cobra"
)

func init() {
	var output string

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the checkpoint of an output root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadMerged(config.Options{
				IgnoreConfig: flagIgnoreConfig,
				Output:       output,
			})
			if err != nil {
				return err
			}

			store := checkpoint.NewStore(cfg.Output)
			job, err := store.Load()
			if errors.Is(err, checkpoint.ErrNotFound) {
				fmt.Printf("No checkpoint in %s\n", store.Root())
				return nil
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "Title:\t%s\n", job.Title)
			_, _ = fmt.Fprintf(w, "Source:\t%s\n", job.SourceRef)
			_, _ = fmt.Fprintf(w, "Folder:\t%s\n", job.Dir)
			_, _ = fmt.Fprintf(w, "Chapters:\t%d/%d done\n", job.NextIndex(), len(job.Chapters))
			_, _ = fmt.Fprintf(w, "Pages:\t%d\n", job.PageCount())
			if job.VolumeDivisor > 0 {
				_, _ = fmt.Fprintf(w, "Volumes:\t%d chapters each\n", job.VolumeDivisor)
			}
			if at, err := store.SavedAt(); err == nil {
				_, _ = fmt.Fprintf(w, "Saved:\t%s\n", at.Local().Format(time.DateTime))
			}

			switch {
			case job.Complete():
				_, _ = fmt.Fprintf(w, "Next:\tmangabind export --output %s\n", store.Root())
			default:
				next := job.Chapters[job.NextIndex()]
				_, _ = fmt.Fprintf(w, "Next:\t%s (mangabind download --resume --output %s)\n", next.Title, store.Root())
			}
			return w.Flush()
		},
	}

	statusCmd.Flags().StringVar(&output, "output", "", "output root holding the checkpoint")
	rootCmd.AddCommand(statusCmd)
}
