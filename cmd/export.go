package cmd

import (
	"fmt"

	"github.com/brogergvhs/mangabind/internal/checkpoint"
	"github.com/brogergvhs/mangabind/internal/config"
	"github.com/brogergvhs/mangabind/internal/export"
	"github.com/brogergvhs/mangabind/internal/ui"
	"github.com/brogergvhs/mangabind/internal/walker"

	"github.com/spf13/cobra"
)

func init() {
	var (
		output     string
		formats    []string
		volume     int
		pageSize   string
		keepImages bool
	)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export a fully acquired checkpoint again, without touching the source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.LoadMerged(config.Options{
				IgnoreConfig: flagIgnoreConfig,
				Debug:        flagDebug,
				Output:       output,
				Formats:      formats,
				PageSize:     pageSize,
				KeepImages:   keepImages,
			})
			if err != nil {
				return err
			}
			logSvc := ui.NewLogger(cfg.Debug)

			fs, err := export.ParseFormats(cfg.Formats)
			if err != nil {
				return err
			}
			size, err := export.ParsePageSize(cfg.PageSize)
			if err != nil {
				return err
			}

			store := checkpoint.NewStore(cfg.Output)
			lock, err := store.Lock()
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			p := &pipeline{
				cfg:   cfg,
				log:   logSvc,
				exp:   export.NewDispatcher(export.Options{PageSize: size, Workers: cfg.ExportWorkers}, logSvc),
				stats: &ui.Stats{},
			}

			fmt.Printf("Exporting checkpoint in %s as %v\n", store.Root(), fs)
			return p.run(cmd.Context(), walker.Config{
				OutputRoot:    cfg.Output,
				Mode:          walker.ExportOnly,
				VolumeDivisor: volume,
				KeepImages:    cfg.KeepImages,
				Formats:       fs,
			}, store)
		},
	}

	exportCmd.Flags().StringVar(&output, "output", "", "output root holding the checkpoint")
	exportCmd.Flags().StringSliceVar(&formats, "format", nil, "export formats: pdf, epub, cbz, images (comma separated)")
	exportCmd.Flags().IntVar(&volume, "volume", 0, "rebind with this many chapters per volume (0 keeps the checkpointed value)")
	exportCmd.Flags().StringVar(&pageSize, "page-size", "", "PDF page size: none, A4, A5, Letter, Legal")
	exportCmd.Flags().BoolVar(&keepImages, "keep-images", false, "keep page images and the checkpoint after export")

	rootCmd.AddCommand(exportCmd)
}
