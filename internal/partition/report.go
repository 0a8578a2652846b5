package partition

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/neetlogiq/datapack/internal/manifest"
	"github.com/neetlogiq/datapack/pkg/types"
)

// WriteReport prints one line per partition followed by per-category totals.
func WriteReport(w io.Writer, m *manifest.Manifest) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "FILENAME\tCLASS\tROUNDS\tRECORDS\tESTIMATED\tCOMPRESSED\tFEASIBLE\n")
	for _, p := range m.Partitions {
		compressed := "-"
		if p.CompressedSizeBytes > 0 {
			compressed = humanize.Bytes(uint64(p.CompressedSizeBytes))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			p.Filename, p.PriorityClass, formatRounds(p.Rounds),
			humanize.Comma(p.RecordCount), humanize.Bytes(uint64(p.EstimatedSizeBytes)),
			compressed, p.Feasible)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nmanifest %s: %d partitions, %s estimated, ceiling %s\n",
		m.Version, m.TotalPartitions,
		humanize.Bytes(uint64(m.TotalEstimatedSize)), humanize.Bytes(uint64(m.MaxChunkSize)))
	for _, cat := range types.Categories() {
		s, ok := m.Categories[cat]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-10s %3d partitions (%d immediate, %d on-demand), %s records, %s\n",
			cat, s.TotalPartitions, len(s.Immediate), len(s.OnDemand),
			humanize.Comma(s.TotalRecords), humanize.Bytes(uint64(s.TotalEstimatedSize)))
	}
	if bad := m.Infeasible(); len(bad) > 0 {
		fmt.Fprintf(w, "\n%d infeasible partition(s):\n", len(bad))
		for _, p := range bad {
			fmt.Fprintf(w, "  %s\n", p.Filename)
		}
	}
	return nil
}

func formatRounds(rounds []int) string {
	if len(rounds) == 0 {
		return "-"
	}
	parts := make([]string, len(rounds))
	for i, r := range rounds {
		parts[i] = fmt.Sprint(r)
	}
	return strings.Join(parts, ",")
}
