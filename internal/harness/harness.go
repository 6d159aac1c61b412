package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/smartview/internal/compiler"
	"github.com/roach88/smartview/internal/engine"
	"github.com/roach88/smartview/internal/ir"
	"github.com/roach88/smartview/internal/library"
	"github.com/roach88/smartview/internal/queryir"
	"github.com/roach88/smartview/internal/store"
	"github.com/roach88/smartview/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a fixed evaluation time and sequential batch ids.
type Harness struct {
	store      *store.Store
	controller *engine.Controller
	library    *library.Library
	sub        *engine.Subscription
	logger     *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. The
// controller is never run as a loop; every step is followed by Flush, so
// the rate limiter and timers play no part and traces are reproducible.
//
// Execution flow:
// 1. Create fresh in-memory database and controller
// 2. Apply setup, then definitions from CUE files
// 3. Apply steps, flushing after each
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a context and an optional logger for the
// controller. A nil logger discards output.
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	now := DefaultNow
	if scenario.Now != nil {
		now = scenario.Now.UTC()
	}

	rl := engine.DefaultRateLimitConfig()
	rl.EventsMax = 0

	c, err := engine.New(st,
		engine.WithLogger(logger),
		engine.WithNow(func() time.Time { return now }),
		engine.WithIDGenerator(testutil.NewSequenceIDGenerator("batch")),
		engine.WithRateLimit(rl),
		engine.WithWorkers(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	defer c.Close()
	if err := c.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load controller: %w", err)
	}

	h := &Harness{
		store:      st,
		controller: c,
		library:    library.New(st, c, logger),
		sub:        c.Subscribe(),
		logger:     logger,
	}
	defer h.sub.Close()

	result := NewResult()

	if err := h.executeSetup(ctx, scenario, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	for i, step := range scenario.Steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		if err := h.executeStep(ctx, step); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := h.settle(ctx, name, result); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	for _, def := range c.List() {
		members, err := c.Members(def.ID)
		if err != nil {
			return nil, err
		}
		result.Members[def.ID] = members
	}

	actx := &AssertionContext{Store: st, Controller: c, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// executeSetup applies the starting collection and creates the smart
// playlists, inline ones first and then those from definition files.
func (h *Harness) executeSetup(ctx context.Context, scenario *Scenario, result *Result) error {
	setup := scenario.Setup

	items, err := itemsOf(setup.Items)
	if err != nil {
		return err
	}
	if _, err := h.library.AddItems(ctx, items...); err != nil {
		return err
	}
	for _, p := range setup.Playlists {
		if err := h.createStatic(ctx, p); err != nil {
			return err
		}
	}

	for _, spec := range setup.Smart {
		def, err := spec.Definition()
		if err != nil {
			return err
		}
		if _, err := h.controller.Define(ctx, def); err != nil {
			return fmt.Errorf("smart %q: %w", spec.Name, err)
		}
	}

	for _, path := range scenario.Definitions {
		var existing []int64
		for _, def := range h.controller.List() {
			existing = append(existing, def.ID)
		}
		defs, err := compileFile(path, existing)
		if err != nil {
			return err
		}
		for _, def := range defs {
			if _, err := h.controller.Define(ctx, def); err != nil {
				return fmt.Errorf("%s: smart %q: %w", path, def.Name, err)
			}
		}
	}

	h.logger.Info("setup complete", "items", len(items), "smart", len(h.controller.List()))
	return h.settle(ctx, "setup", result)
}

// executeStep applies one mutation.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	switch {
	case len(step.AddItems) > 0:
		items, err := itemsOf(step.AddItems)
		if err != nil {
			return err
		}
		_, err = h.library.AddItems(ctx, items...)
		return err
	case len(step.UpdateItems) > 0:
		items, err := itemsOf(step.UpdateItems)
		if err != nil {
			return err
		}
		return h.library.UpdateItems(ctx, items...)
	case len(step.RemoveItems) > 0:
		return h.library.RemoveItems(ctx, step.RemoveItems...)
	case step.CreatePlaylist != nil:
		return h.createStatic(ctx, *step.CreatePlaylist)
	case step.DeletePlaylist != 0:
		return h.library.DeletePlaylist(ctx, step.DeletePlaylist)
	case step.AddToPlaylist != nil:
		_, err := h.library.AddToPlaylist(ctx, step.AddToPlaylist.Playlist, step.AddToPlaylist.Items...)
		return err
	case step.RemoveFromPlaylist != nil:
		_, err := h.library.RemoveFromPlaylist(ctx, step.RemoveFromPlaylist.Playlist, step.RemoveFromPlaylist.Items...)
		return err
	case step.CreateSmart != nil:
		def, err := step.CreateSmart.Definition()
		if err != nil {
			return err
		}
		_, err = h.controller.Define(ctx, def)
		return err
	case step.UpdateSmart != nil:
		def, err := step.UpdateSmart.Definition()
		if err != nil {
			return err
		}
		return h.controller.Update(ctx, def)
	case step.RenameSmart != nil:
		return h.controller.Rename(ctx, step.RenameSmart.ID, step.RenameSmart.Name)
	case step.DeleteSmart != 0:
		return h.controller.Remove(ctx, step.DeleteSmart)
	case step.Refresh != 0:
		return h.controller.Refresh(ctx, step.Refresh)
	case step.RefreshAll:
		return h.controller.RefreshAll(ctx)
	case step.Reload:
		return h.library.Reload()
	}
	return fmt.Errorf("no operation")
}

func (h *Harness) createStatic(ctx context.Context, p StaticSpec) error {
	id, err := h.library.CreatePlaylist(ctx, p.ID, p.Name)
	if err != nil {
		return err
	}
	if len(p.Items) > 0 {
		_, err = h.library.AddToPlaylist(ctx, id, p.Items...)
	}
	return err
}

// settle flushes the controller and moves every pending notification into
// the trace under step.
func (h *Harness) settle(ctx context.Context, step string, result *Result) error {
	if err := h.controller.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	var batch []engine.Notification
	for {
		n, ok := h.sub.TryNext()
		if !ok {
			break
		}
		batch = append(batch, n)
	}
	// Playlists within one dependency level may publish in any order.
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].PlaylistID < batch[j].PlaylistID
	})
	for _, n := range batch {
		result.AddNotification(step, n)
	}
	return nil
}

func itemsOf(specs []library.ItemSpec) ([]ir.Item, error) {
	items := make([]ir.Item, 0, len(specs))
	for _, spec := range specs {
		item, err := spec.Item()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// compileFile compiles the smart playlists of one CUE file. References
// may resolve to the existing smart playlist ids.
func compileFile(path string, existing []int64) ([]queryir.Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	v := cuecontext.New().CompileBytes(src, cue.Filename(path))
	playlists, errs := compiler.CompilePlaylists(v)
	if len(errs) > 0 {
		return nil, fmt.Errorf("compile %s: %w", path, errs[0])
	}
	if problems := compiler.Validate(playlists, existing...); len(problems) > 0 {
		return nil, fmt.Errorf("validate %s: %w", path, problems[0])
	}
	defs := make([]queryir.Definition, len(playlists))
	for i, p := range playlists {
		defs[i] = p.Definition
	}
	return defs, nil
}
