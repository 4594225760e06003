package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gravitas-games/flowfield/internal/cache"
	"github.com/gravitas-games/flowfield/internal/field"
	"github.com/gravitas-games/flowfield/internal/graph"
	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/nav"
)

var (
	planClass      string
	planFrom       string
	planTo         string
	planShowFields bool
	planMaxTicks   int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan one route offline and print it as JSON",
	Long: `Runs the pipeline against the configured world without starting the
server. Endpoints are written region/cell, for example 0:0/3:4 is cell
(3,4) of region (0,0).

Example:
  flowfield plan --from 0:0/0:0 --to 2:1/5:5 --fields`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planClass, "class", "", "agent class (default: first configured class)")
	planCmd.Flags().StringVar(&planFrom, "from", "", "source endpoint region/cell")
	planCmd.Flags().StringVar(&planTo, "to", "", "target endpoint region/cell")
	planCmd.Flags().BoolVar(&planShowFields, "fields", false, "also print the flow field of every leg")
	planCmd.Flags().IntVar(&planMaxTicks, "max-ticks", 64, "give up after this many pipeline ticks")
	_ = planCmd.MarkFlagRequired("from")
	_ = planCmd.MarkFlagRequired("to")
}

func runPlan(cmd *cobra.Command, args []string) error {
	source, err := parseEndpoint(planFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	target, err := parseEndpoint(planTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	world, err := loadWorld(cfg.World)
	if err != nil {
		return err
	}
	engine, err := nav.NewEngine(world, nav.OptionsFromConfig(cfg), logger, nav.NewNullEventBus())
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close()

	class := planClass
	if class == "" {
		class = engine.Classes()[0]
	}
	if _, err := engine.RequestPath(nav.PathRequest{Class: class, Source: source, Target: target}); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var route *graph.Route
	for tick := 1; tick <= planMaxTicks; tick++ {
		if err := engine.Tick(ctx); err != nil {
			return err
		}
		if route == nil {
			r, ok, err := engine.Route(class, source, target)
			if err != nil {
				return err
			}
			if ok {
				route = r
			}
		}
		if route != nil && (!planShowFields || engine.QueuedBuilds() == 0) {
			logger.Debug("Plan complete", zap.Int("ticks", tick))
			break
		}
	}
	if route == nil {
		return fmt.Errorf("route not planned after %d ticks", planMaxTicks)
	}

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(route); err != nil {
		return err
	}
	if !planShowFields {
		return nil
	}

	for _, leg := range route.Legs() {
		key := cache.FieldKey{Region: leg.Region, Goal: leg.Goal, Exit: leg.Exit}
		f, ok, err := engine.Field(class, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nregion %s goal %s exit %s\n", leg.Region, leg.Goal, leg.Exit)
		if !ok {
			fmt.Fprintln(out, "(not built)")
			continue
		}
		renderField(out, f)
	}
	return nil
}

// parseEndpoint reads "c:r/c:r"
func parseEndpoint(s string) (graph.Endpoint, error) {
	var e graph.Endpoint
	region, cell, ok := strings.Cut(s, "/")
	if !ok {
		return e, fmt.Errorf("endpoint %q is not region/cell", s)
	}
	if _, err := fmt.Sscanf(region, "%d:%d", &e.Region.Column, &e.Region.Row); err != nil {
		return e, fmt.Errorf("region %q: %w", region, err)
	}
	if _, err := fmt.Sscanf(cell, "%d:%d", &e.Cell.Column, &e.Cell.Row); err != nil {
		return e, fmt.Errorf("cell %q: %w", cell, err)
	}
	return e, nil
}

var arrows = map[grid.Ordinal]rune{
	grid.North:     '↑',
	grid.NorthEast: '↗',
	grid.East:      '→',
	grid.SouthEast: '↘',
	grid.South:     '↓',
	grid.SouthWest: '↙',
	grid.West:      '←',
	grid.NorthWest: '↖',
}

func renderField(w io.Writer, f *field.FlowField) {
	res := f.Resolution()
	var b strings.Builder
	for row := 0; row < res; row++ {
		b.Reset()
		for col := 0; col < res; col++ {
			b.WriteRune(glyph(f.At(grid.FieldCell{Column: col, Row: row})))
		}
		fmt.Fprintln(w, b.String())
	}
}

func glyph(bits uint8) rune {
	switch {
	case !field.IsPathable(bits):
		return '#'
	case field.IsGoal(bits):
		return '*'
	case field.IsPortalGoal(bits):
		return 'o'
	}
	if o, ok := field.Direction(bits); ok {
		if r, ok := arrows[o]; ok {
			return r
		}
	}
	return '.'
}
