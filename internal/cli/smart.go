package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/queryir"
)

// QueryOptions holds the flags that describe a smart playlist query.
type QueryOptions struct {
	Where string // predicate JSON
	Order string // "field [asc|desc]"
	Limit string // "number [unit]"
}

func (q *QueryOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&q.Where, "where", "", `predicate JSON, e.g. '{"op":"eq","field":"genre","value":"Jazz"}'`)
	cmd.Flags().StringVar(&q.Order, "order", "", `order, e.g. "rating desc"`)
	cmd.Flags().StringVar(&q.Limit, "limit", "", `limit, e.g. "25", "90 minutes" or "700 MB"`)
}

// apply overwrites the parts of query whose flags were given. When
// all is set every part is overwritten.
func (q *QueryOptions) apply(cmd *cobra.Command, query *queryir.Query, all bool) error {
	changed := func(name string) bool { return all || cmd.Flags().Changed(name) }

	if changed("where") {
		filter, err := queryir.UnmarshalPredicate([]byte(q.Where))
		if err != nil {
			return fmt.Errorf("--where: %w", err)
		}
		query.Filter = filter
	}
	if changed("order") {
		order, err := queryir.ParseOrder(q.Order)
		if err != nil {
			return fmt.Errorf("--order: %w", err)
		}
		query.Order = order
	}
	if changed("limit") {
		limit, err := queryir.ParseLimit(q.Limit)
		if err != nil {
			return fmt.Errorf("--limit: %w", err)
		}
		query.Limit = limit
	}
	return nil
}

// PlaylistInfo describes a smart playlist in command output.
type PlaylistInfo struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Where   string  `json:"where,omitempty"`
	Order   string  `json:"order,omitempty"`
	Limit   string  `json:"limit,omitempty"`
	Count   int     `json:"count"`
	Members []int64 `json:"members,omitempty"`
	Hash    string  `json:"hash,omitempty"`
}

func (p PlaylistInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\t%s\t%d item(s)", p.ID, p.Name, p.Count)
	for _, part := range []string{p.Where, p.Order, p.Limit} {
		if part != "" {
			fmt.Fprintf(&b, "\n  %s", part)
		}
	}
	if len(p.Members) > 0 {
		fmt.Fprintf(&b, "\n  members: %v", p.Members)
	}
	return b.String()
}

func describe(e *env, def queryir.Definition, withMembers bool) (PlaylistInfo, error) {
	info := PlaylistInfo{ID: def.ID, Name: def.Name}
	where, err := queryir.MarshalPredicate(def.Query.Filter)
	if err != nil {
		return info, err
	}
	if where != "" {
		info.Where = "where " + where
	}
	if def.Query.Order != nil {
		info.Order = "order " + def.Query.Order.String()
	}
	if def.Query.Limit != nil {
		info.Limit = "limit " + def.Query.Limit.String()
	}
	members, err := e.controller.Members(def.ID)
	if err != nil {
		return info, err
	}
	info.Count = len(members)
	if withMembers {
		info.Members = members
		info.Hash = ir.MembershipHash(members)
	}
	return info, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid playlist id %q", s))
	}
	return id, nil
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	q := &QueryOptions{}
	var id int64

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a smart playlist",
		Long: `Create a smart playlist and materialize its membership.

Examples:
  smartview create "Jazz" --where '{"op":"eq","field":"genre","value":"Jazz"}'
  smartview create "Short Jazz" --where '[...]' --order "duration asc" --limit "30 minutes"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				def := queryir.Definition{ID: id, Name: args[0]}
				if err := q.apply(cmd, &def.Query, true); err != nil {
					return e.out.Fail("invalid query", err)
				}
				created, err := e.controller.Define(ctx, def)
				if err != nil {
					return e.out.Fail("create failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				info, err := describe(e, created, false)
				if err != nil {
					return e.out.Fail("describe", err)
				}
				return e.out.Success(info)
			})
		},
	}

	q.bind(cmd)
	cmd.Flags().Int64Var(&id, "id", 0, "pin the playlist id (default: assigned)")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	q := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a smart playlist's query",
		Long: `Change the where, order or limit of a smart playlist. Only the given
flags change; pass an empty value to clear a part.

Example:
  smartview update 3 --limit "50"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				def, err := e.controller.Get(id)
				if err != nil {
					return e.out.Fail("update failed", err)
				}
				if err := q.apply(cmd, &def.Query, false); err != nil {
					return e.out.Fail("invalid query", err)
				}
				if err := e.controller.Update(ctx, def); err != nil {
					return e.out.Fail("update failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				info, err := describe(e, def, false)
				if err != nil {
					return e.out.Fail("describe", err)
				}
				return e.out.Success(info)
			})
		},
	}

	q.bind(cmd)

	return cmd
}

// NewRenameCommand creates the rename command.
func NewRenameCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rename <id> <name>",
		Short:         "Rename a smart playlist",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				if err := e.controller.Rename(ctx, id, args[1]); err != nil {
					return e.out.Fail("rename failed", err)
				}
				return e.out.Success(fmt.Sprintf("renamed %d to %q", id, args[1]))
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a smart playlist",
		Long: `Delete a smart playlist and its stored membership. Smart playlists that
read it are refreshed and become empty on that clause.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				if err := e.controller.Remove(ctx, id); err != nil {
					return e.out.Fail("delete failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				return e.out.Success(fmt.Sprintf("deleted %d", id))
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List smart playlists",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				infos := []PlaylistInfo{}
				for _, def := range e.controller.List() {
					info, err := describe(e, def, false)
					if err != nil {
						return e.out.Fail("describe", err)
					}
					infos = append(infos, info)
				}
				if e.out.Format == "json" {
					return e.out.Success(infos)
				}
				if len(infos) == 0 {
					fmt.Fprintln(e.out.Writer, "No smart playlists.")
				}
				for _, info := range infos {
					fmt.Fprintln(e.out.Writer, info)
				}
				return nil
			})
		},
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Show a smart playlist and its members",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				def, err := e.controller.Get(id)
				if err != nil {
					return e.out.Fail("show failed", err)
				}
				info, err := describe(e, def, true)
				if err != nil {
					return e.out.Fail("describe", err)
				}
				return e.out.Success(info)
			})
		},
	}
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [id]",
		Short: "Recompute smart playlists from scratch",
		Long: `Recompute one smart playlist, or every playlist in dependency order
when no id is given.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				if len(args) == 0 {
					if err := e.controller.RefreshAll(ctx); err != nil {
						return e.out.Fail("refresh failed", err)
					}
					if err := e.flush(ctx); err != nil {
						return err
					}
					return e.out.Success(fmt.Sprintf("refreshed %d playlist(s)", len(e.controller.List())))
				}
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := e.controller.Refresh(ctx, id); err != nil {
					return e.out.Fail("refresh failed", err)
				}
				if err := e.flush(ctx); err != nil {
					return err
				}
				return e.out.Success(fmt.Sprintf("refreshed %d", id))
			})
		},
	}
}
