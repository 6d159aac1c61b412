package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/smartview/internal/compiler"
	"github.com/roach88/smartview/internal/queryir"
)

// ImportResult reports what an import changed.
type ImportResult struct {
	Created []PlaylistInfo `json:"created"`
	Updated []PlaylistInfo `json:"updated"`
}

func (r ImportResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ %d created, %d updated", len(r.Created), len(r.Updated))
	for _, p := range r.Created {
		fmt.Fprintf(&b, "\n  + %d %s (%d item(s))", p.ID, p.Name, p.Count)
	}
	for _, p := range r.Updated {
		fmt.Fprintf(&b, "\n  ~ %d %s (%d item(s))", p.ID, p.Name, p.Count)
	}
	return b.String()
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <definitions-dir>",
		Short: "Create or update smart playlists from CUE definitions",
		Long: `Import the CUE smart playlist definitions in a directory.

A definition whose id, or failing that whose name, matches an existing
smart playlist updates it; any other definition creates a playlist.
Referenced playlists are imported before the playlists that read them.

Example:
  smartview import ./playlists --db ./smartview.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return runImport(ctx, e, args[0])
			})
		},
	}
}

func runImport(ctx context.Context, e *env, dir string) error {
	loadResult, loadErrors := LoadDefinitions(dir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(e.out, loadErr.Code, loadErr.Error())
		}
		return outputValidateError(e.out, ErrCodeGeneric, loadErrors[0].Error())
	}

	existing := e.controller.List()
	byID := make(map[int64]bool, len(existing))
	byName := make(map[string]int64, len(existing))
	ids := make([]int64, 0, len(existing))
	for _, def := range existing {
		byID[def.ID] = true
		byName[strings.ToLower(def.Name)] = def.ID
		ids = append(ids, def.ID)
	}

	if problems := compiler.Validate(loadResult.Playlists, ids...); len(problems) > 0 {
		return outputValidationErrors(e.out, len(loadResult.Playlists), problems)
	}

	ordered, err := importOrder(loadResult.Playlists, byID)
	if err != nil {
		return e.out.Fail("import failed", err)
	}

	result := ImportResult{Created: []PlaylistInfo{}, Updated: []PlaylistInfo{}}
	var touched []queryir.Definition
	var created []bool
	for _, p := range ordered {
		def := p.Definition
		if def.ID == 0 {
			def.ID = byName[strings.ToLower(def.Name)]
		}
		if def.ID != 0 && byID[def.ID] {
			e.out.VerboseLog("Updating %d %s from %s", def.ID, def.Name, p.Source)
			if err := e.controller.Update(ctx, def); err != nil {
				return e.out.Fail(fmt.Sprintf("update %q", def.Name), err)
			}
			touched, created = append(touched, def), append(created, false)
			continue
		}
		e.out.VerboseLog("Creating %s from %s", def.Name, p.Source)
		def, err := e.controller.Define(ctx, def)
		if err != nil {
			return e.out.Fail(fmt.Sprintf("create %q", p.Definition.Name), err)
		}
		byID[def.ID] = true
		touched, created = append(touched, def), append(created, true)
	}

	if err := e.flush(ctx); err != nil {
		return err
	}
	for i, def := range touched {
		info, err := describe(e, def, false)
		if err != nil {
			return e.out.Fail("describe", err)
		}
		if created[i] {
			result.Created = append(result.Created, info)
		} else {
			result.Updated = append(result.Updated, info)
		}
	}
	return e.out.Success(result)
}

// importOrder sorts playlists so every referenced smart playlist comes
// before the playlists that read it. known holds ids already defined.
func importOrder(set []compiler.Playlist, known map[int64]bool) ([]compiler.Playlist, error) {
	done := make(map[int64]bool, len(known)+len(set))
	for id := range known {
		done[id] = true
	}

	ordered := make([]compiler.Playlist, 0, len(set))
	pending := set
	for len(pending) > 0 {
		var next []compiler.Playlist
		for _, p := range pending {
			ready := true
			for _, ref := range compiler.SmartIDs(p.Definition) {
				if !done[ref] && ref != p.Definition.ID {
					ready = false
					break
				}
			}
			if !ready {
				next = append(next, p)
				continue
			}
			ordered = append(ordered, p)
			if p.Definition.ID != 0 {
				done[p.Definition.ID] = true
			}
		}
		if len(next) == len(pending) {
			return nil, fmt.Errorf("unresolvable references among %d playlist(s)", len(next))
		}
		pending = next
	}
	return ordered, nil
}
