package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerverless/studio/internal/gallery"
	"github.com/zerverless/studio/internal/imagedata"
	"github.com/zerverless/studio/internal/storage"
)

const promptColumnWidth = 48

func newGalleryCommand(ctx *commandContext) *cobra.Command {
	galleryCmd := &cobra.Command{
		Use:   "gallery",
		Short: "Inspect and export the persisted gallery",
	}
	galleryCmd.AddCommand(newGalleryListCommand(ctx), newGalleryExportCommand(ctx))
	return galleryCmd
}

func newGalleryListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List gallery items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			g, store, err := ctx.openGallery(cfg, ctx.logger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			items := g.List()
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Gallery is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderGallery(items))
			return nil
		},
	}
}

func newGalleryExportCommand(ctx *commandContext) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export [item-id...]",
		Short: "Write gallery images to the export directory (all items when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.ExportDir
			}
			g, store, err := ctx.openGallery(cfg, ctx.logger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			exports, err := storage.NewStore(dir)
			if err != nil {
				return err
			}

			items, err := selectItems(g, args)
			if err != nil {
				return err
			}
			for _, item := range items {
				path, err := exports.Export(item)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Export directory (defaults to EXPORT_DIR)")
	return cmd
}

func selectItems(g *gallery.Store, ids []string) ([]gallery.Item, error) {
	if len(ids) == 0 {
		return g.List(), nil
	}
	items := make([]gallery.Item, 0, len(ids))
	for _, id := range ids {
		item, ok := g.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", gallery.ErrItemNotFound, id)
		}
		items = append(items, item)
	}
	return items, nil
}

func renderGallery(items []gallery.Item) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		mimeType, data, err := imagedata.Decode(item.Src)
		size := "-"
		if err == nil {
			size = strconv.Itoa(len(data))
		} else {
			mimeType = "invalid"
		}
		rows = append(rows, []string{
			item.ID,
			item.CreatedAt.Local().Format(time.DateTime),
			mimeType,
			size,
			truncate(item.Prompt, promptColumnWidth),
		})
	}
	return renderTable(
		[]string{"ID", "Created", "Type", "Bytes", "Prompt"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
