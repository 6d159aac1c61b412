package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewPlaylistCommand creates the command group for static playlists.
func NewPlaylistCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playlist",
		Short: "Manage static playlists",
		Long: `Manage static (hand-curated) playlists. Smart playlists may select their
members with an in_playlist clause.`,
	}

	cmd.AddCommand(newPlaylistCreateCommand(rootOpts))
	cmd.AddCommand(newPlaylistDeleteCommand(rootOpts))
	cmd.AddCommand(newPlaylistEditCommand(rootOpts, "add"))
	cmd.AddCommand(newPlaylistEditCommand(rootOpts, "remove"))
	cmd.AddCommand(newPlaylistListCommand(rootOpts))

	return cmd
}

func newPlaylistCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:           "create <name>",
		Short:         "Create a static playlist",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				created, err := e.library.CreatePlaylist(ctx, id, args[0])
				if err != nil {
					return e.out.Fail("create failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				return e.out.Success(map[string]any{"id": created, "name": args[0]})
			})
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "pin the playlist id (default: assigned)")

	return cmd
}

func newPlaylistDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a static playlist",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				if err := e.library.DeletePlaylist(ctx, id); err != nil {
					return e.out.Fail("delete failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				return e.out.Success(fmt.Sprintf("deleted playlist %d", id))
			})
		},
	}
}

// newPlaylistEditCommand builds "playlist add" and "playlist remove".
func newPlaylistEditCommand(rootOpts *RootOptions, verb string) *cobra.Command {
	return &cobra.Command{
		Use:           verb + " <playlist-id> <item-id>...",
		Short:         fmt.Sprintf("%s items of a static playlist", verb),
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parseID(args[0])
			if err != nil {
				return err
			}
			ids, err := parseItemIDs(args[1:])
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				edit, key := e.library.AddToPlaylist, "added"
				if verb == "remove" {
					edit, key = e.library.RemoveFromPlaylist, "removed"
				}
				changed, err := edit(ctx, pid, ids...)
				if err != nil {
					return e.out.Fail(verb+" failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				if changed == nil {
					changed = []int64{}
				}
				return e.out.Success(map[string]any{"playlist": pid, key: changed})
			})
		},
	}
}

func newPlaylistListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List static playlists",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				list, err := e.store.ListPlaylists(ctx)
				if err != nil {
					return e.out.Fail("list failed", err)
				}
				if e.out.Format == "json" {
					return e.out.Success(list)
				}
				if len(list) == 0 {
					fmt.Fprintln(e.out.Writer, "No static playlists.")
				}
				for _, p := range list {
					items, err := e.store.PlaylistItems(ctx, p.ID)
					if err != nil {
						return e.out.Fail("list failed", err)
					}
					fmt.Fprintf(e.out.Writer, "%d\t%s\t%v\n", p.ID, p.Name, items)
				}
				return nil
			})
		},
	}
}
