package cmd

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/raytracing"
	"github.com/urfave/cli"
)

// Run the frame loop and print the state of every bottom-level entry.
func Stats(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	return runEngine(ctx, cfg, func(e *engine.Engine) error {
		core.Logger().Printf("acceleration structures after %d frames\n%s", e.Frames(), FormatStats(e.Manager().Stats()))
		return nil
	})
}

// FormatStats renders manager statistics as a table.
func FormatStats(stats raytracing.Stats) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Entry", "Mesh", "State", "Size", "Built", "Saved", "Refs", "Builds", "Refits"})
	var resultSize, buildSize uint64
	var refs, builds, refits int
	for _, entry := range stats.Entries {
		table.Append([]string{
			entry.ID,
			entry.MeshID,
			entry.State.String(),
			fmt.Sprintf("%d", entry.ResultSize),
			fmt.Sprintf("%d", entry.BuildSize),
			fmt.Sprintf("%d", entry.Savings()),
			fmt.Sprintf("%d", entry.RefCount),
			fmt.Sprintf("%d", entry.Builds),
			fmt.Sprintf("%d", entry.Refits),
		})
		resultSize += entry.ResultSize
		buildSize += entry.BuildSize
		refs += entry.RefCount
		builds += entry.Builds
		refits += entry.Refits
	}
	// Every footer cell totals the column above it.
	table.SetFooter([]string{
		"TOTAL",
		fmt.Sprintf("%d entries", len(stats.Entries)),
		fmt.Sprintf("%d compacted", stats.CountByState(raytracing.COMPACTION_STATE_COMPACTED)),
		fmt.Sprintf("%d", resultSize),
		fmt.Sprintf("%d", buildSize),
		fmt.Sprintf("%d", stats.SavedBytes),
		fmt.Sprintf("%d", refs),
		fmt.Sprintf("%d", builds),
		fmt.Sprintf("%d", refits),
	})
	table.SetCaption(true, fmt.Sprintf("%d instances, %d bytes allocated, %d retiring, %d compactions queued",
		stats.TopLevelInstances, stats.AllocatedBytes, stats.RetirePending, stats.CompactionsQueued))

	table.Render()
	return buf.String()
}
