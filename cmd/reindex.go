package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var tile bool

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Index slides already present in the upload directory",
		Long: `Scans the upload directory for files named <identifier><extension> that are missing
from the slide index and adds them, optionally building their tile pyramids.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			added, err := a.slides.Reindex()
			if err != nil {
				return err
			}
			log.Info(fmt.Sprintf("Indexed %d slides", added))
			if !tile {
				return nil
			}

			identifiers, err := a.slides.Untiled()
			if err != nil {
				return err
			}
			var errs []error
			for _, identifier := range identifiers {
				slide, err := a.slides.Lookup(identifier)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if err := a.tiles.Tile(slide.Identifier, slide.Path); err != nil {
					log.Warn(fmt.Sprintf("Tiling %s failed: %s", slide.SavedAs, err.Error()))
					continue
				}
				if err := a.slides.MarkTiled(slide.Identifier, true); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&tile, "tile", false, "Build the tile pyramid of every slide without one")

	return cmd
}
