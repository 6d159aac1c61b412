package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/library"
)

// ItemOptions holds the attribute flags of item add and item update.
type ItemOptions struct {
	Spec library.ItemSpec
	File string
}

func (o *ItemOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.Spec.Title, "title", "", "title")
	f.StringVar(&o.Spec.Artist, "artist", "", "artist")
	f.StringVar(&o.Spec.Album, "album", "", "album")
	f.StringVar(&o.Spec.Genre, "genre", "", "genre")
	f.StringVar(&o.Spec.URI, "uri", "", "resource URI or path relative to library.media_root")
	f.Int64Var(&o.Spec.Year, "year", 0, "release year")
	f.Int64Var(&o.Spec.Rating, "rating", 0, "rating (0-5)")
	f.Int64Var(&o.Spec.PlayCount, "play-count", 0, "play count")
	f.StringVar(&o.Spec.Duration, "duration", "", `duration, e.g. "4m12s"`)
}

// overlay copies the attributes whose flags were given onto item.
func (o *ItemOptions) overlay(cmd *cobra.Command, item *ir.Item) error {
	f := cmd.Flags()
	if f.Changed("title") {
		item.Title = o.Spec.Title
	}
	if f.Changed("artist") {
		item.Artist = o.Spec.Artist
	}
	if f.Changed("album") {
		item.Album = o.Spec.Album
	}
	if f.Changed("genre") {
		item.Genre = o.Spec.Genre
	}
	if f.Changed("uri") {
		item.URI = o.Spec.URI
	}
	if f.Changed("year") {
		item.Year = o.Spec.Year
	}
	if f.Changed("rating") {
		item.Rating = o.Spec.Rating
	}
	if f.Changed("play-count") {
		item.PlayCount = o.Spec.PlayCount
	}
	if f.Changed("duration") {
		d, err := time.ParseDuration(o.Spec.Duration)
		if err != nil {
			return fmt.Errorf("--duration: %w", err)
		}
		item.Duration = d
	}
	return nil
}

// NewItemCommand creates the item command group.
func NewItemCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Add, change and remove library items",
	}

	cmd.AddCommand(newItemAddCommand(rootOpts))
	cmd.AddCommand(newItemUpdateCommand(rootOpts))
	cmd.AddCommand(newItemRemoveCommand(rootOpts))
	cmd.AddCommand(newItemPlayedCommand(rootOpts))

	return cmd
}

func newItemAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ItemOptions{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add items from flags or a YAML file",
		Long: `Add one item described by flags, or every item of a YAML file.

Examples:
  smartview item add --title "So What" --genre Jazz --duration 9m22s
  smartview item add --file library.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				var (
					ids []int64
					err error
				)
				if opts.File != "" {
					ids, err = importFile(ctx, e, opts.File)
				} else {
					var item ir.Item
					if item, err = opts.Spec.Item(); err == nil {
						item.DateAdded = time.Now().UTC()
						ids, err = e.library.AddItems(ctx, item)
					}
				}
				if err != nil {
					return e.out.Fail("add failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				return e.out.Success(map[string]any{"added": ids})
			})
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.File, "file", "", "YAML file of items")

	return cmd
}

func importFile(ctx context.Context, e *env, path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return e.library.Import(ctx, f)
}

func newItemUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ItemOptions{}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change item attributes",
		Long: `Change the attributes of an item given as flags. Other attributes keep
their values.

Example:
  smartview item update 12 --genre Rock --rating 4`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				item, err := e.store.ReadItem(ctx, id)
				if err != nil {
					return e.out.Fail("update failed", err)
				}
				if err := opts.overlay(cmd, &item); err != nil {
					return e.out.Fail("update failed", err)
				}
				if err := e.library.UpdateItems(ctx, item); err != nil {
					return e.out.Fail("update failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				return e.out.Success(fmt.Sprintf("updated item %d", id))
			})
		},
	}

	opts.bind(cmd)

	return cmd
}

func newItemPlayedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "played <id>",
		Short:         "Record a play of an item",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				item, err := e.store.ReadItem(ctx, id)
				if err != nil {
					return e.out.Fail("played failed", err)
				}
				item.PlayCount++
				item.LastPlayed = time.Now().UTC()
				if err := e.library.UpdateItems(ctx, item); err != nil {
					return e.out.Fail("played failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				return e.out.Success(fmt.Sprintf("item %d played %d time(s)", id, item.PlayCount))
			})
		},
	}
}

func newItemRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <id>...",
		Short:         "Remove items from the library",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseItemIDs(args)
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				if err := e.library.RemoveItems(ctx, ids...); err != nil {
					return e.out.Fail("remove failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				return e.out.Success(map[string]any{"removed": ids})
			})
		},
	}
}

func parseItemID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid item id %q", s))
	}
	return id, nil
}

func parseItemIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseItemID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
