package cmd

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/views"
	"github.com/urfave/cli"
)

// Trace primary rays through the top-level structure and write an image
// coloured by instance.
func Trace(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	cfg.Run.DebugImage = ctx.String("out")
	cfg.Run.DebugWidth = ctx.Int("width")
	cfg.Run.DebugHeight = ctx.Int("height")
	if err := cfg.Validate(); err != nil {
		return err
	}

	return runEngine(ctx, cfg, func(e *engine.Engine) error {
		if e.View() == nil {
			return fmt.Errorf("trace needs an output file")
		}
		if err := e.GPU().WaitIdle(context.Background()); err != nil {
			return err
		}
		hits, ok := e.View().Hits(e.GPU().CompletedFenceValue())
		if !ok {
			return fmt.Errorf("no frame was traced")
		}
		names := make(map[int32]string)
		for index := range views.Coverage(hits) {
			if index >= 0 {
				names[index] = e.Scene().InstanceName(int(index))
			}
		}
		core.Logger().Printf("instance coverage\n%s", FormatCoverage(views.Coverage(hits), names))
		return nil
	})
}

// FormatCoverage renders per-instance pixel counts as a table, largest first.
func FormatCoverage(coverage map[int32]int, names map[int32]string) string {
	indices := make([]int32, 0, len(coverage))
	total := 0
	for index, pixels := range coverage {
		indices = append(indices, index)
		total += pixels
	}
	sort.Slice(indices, func(i, j int) bool {
		if coverage[indices[i]] != coverage[indices[j]] {
			return coverage[indices[i]] > coverage[indices[j]]
		}
		return indices[i] < indices[j]
	})

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Instance", "Object", "Pixels", "% of frame"})
	for _, index := range indices {
		name := "(miss)"
		if index >= 0 {
			name = names[index]
		}
		table.Append([]string{
			fmt.Sprintf("%d", index),
			name,
			fmt.Sprintf("%d", coverage[index]),
			fmt.Sprintf("%02.1f %%", 100*float64(coverage[index])/float64(total)),
		})
	}
	table.SetFooter([]string{"", "TOTAL", fmt.Sprintf("%d", total), ""})

	table.Render()
	return buf.String()
}
