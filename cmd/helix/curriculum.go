package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/hyperengineering/helix/internal/assembly"
	"github.com/hyperengineering/helix/internal/store"
	"github.com/hyperengineering/helix/internal/types"
	"github.com/spf13/cobra"
)

var (
	curriculumDBOverride string
	curriculumJSONOutput bool
	listTube             int
)

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	premiumColor = color.New(color.FgYellow)
	okColor      = color.New(color.FgGreen)
)

var curriculumCmd = &cobra.Command{
	Use:   "curriculum",
	Short: "Inspect the curriculum database",
	Long:  "List and inspect stitches and facts in a curriculum database without running the server.",
}

var curriculumStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate curriculum counts",
	Args:  cobra.NoArgs,
	RunE:  runCurriculumStats,
}

var curriculumListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stitches",
	Args:  cobra.NoArgs,
	RunE:  runCurriculumList,
}

var curriculumInfoCmd = &cobra.Command{
	Use:   "info <stitch-id>",
	Short: "Show a stitch and the fact ids its recipe derives",
	Args:  cobra.ExactArgs(1),
	RunE:  runCurriculumInfo,
}

func init() {
	curriculumCmd.PersistentFlags().StringVar(&curriculumDBOverride, "db", "",
		"Curriculum database path (overrides HELIX_DB_PATH)")
	curriculumCmd.PersistentFlags().BoolVar(&curriculumJSONOutput, "json", false,
		"Output in JSON format")

	curriculumListCmd.Flags().IntVar(&listTube, "tube", 0,
		"Restrict to one tube (1-3, default: all)")

	curriculumCmd.AddCommand(curriculumStatsCmd)
	curriculumCmd.AddCommand(curriculumListCmd)
	curriculumCmd.AddCommand(curriculumInfoCmd)
}

// resolveCurriculumStore opens the store with the --db override or the same
// path resolution the server uses.
func resolveCurriculumStore() (*store.SQLiteStore, error) {
	dbPath := curriculumDBOverride
	if dbPath == "" {
		dbPath = os.Getenv("HELIX_DB_PATH")
	}
	if dbPath == "" {
		dbPath = "data/helix.db"
	}
	return store.NewSQLiteStore(dbPath)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func runCurriculumStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	db, err := resolveCurriculumStore()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	out := cmd.OutOrStdout()

	if curriculumJSONOutput {
		return printJSON(out, map[string]any{
			"stitches":       stats.StitchCount,
			"facts":          stats.FactCount,
			"valid_sessions": stats.SessionCount,
		})
	}

	headingColor.Fprintln(out, "Curriculum")
	w := newTabWriter(out)
	fmt.Fprintf(w, "Stitches:\t%d\n", stats.StitchCount)
	fmt.Fprintf(w, "Facts:\t%d\n", stats.FactCount)
	fmt.Fprintf(w, "Valid sessions:\t%d\n", stats.SessionCount)
	return w.Flush()
}

func runCurriculumList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if listTube < 0 || listTube > types.TubeCount {
		return fmt.Errorf("tube must be between 1 and %d", types.TubeCount)
	}

	db, err := resolveCurriculumStore()
	if err != nil {
		return err
	}
	defer db.Close()

	tubes := []types.TubeID{types.Tube1, types.Tube2, types.Tube3}
	if listTube != 0 {
		tubes = []types.TubeID{types.TubeID(listTube)}
	}

	var stitches []types.Stitch
	for _, tube := range tubes {
		perTube, err := db.ListStitches(ctx, tube)
		if err != nil {
			return fmt.Errorf("list stitches: %w", err)
		}
		stitches = append(stitches, perTube...)
	}

	out := cmd.OutOrStdout()

	if curriculumJSONOutput {
		items := make([]map[string]any, len(stitches))
		for i, s := range stitches {
			items[i] = map[string]any{
				"id":       s.ID,
				"tube":     s.Tube,
				"concept":  s.Concept,
				"sequence": s.Sequence,
				"operand":  s.Params.Operand,
				"premium":  s.Premium,
			}
		}
		return printJSON(out, map[string]any{
			"stitches": items,
			"total":    len(items),
		})
	}

	if len(stitches) == 0 {
		fmt.Fprintln(out, "No stitches found.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tTUBE\tCONCEPT\tSEQ\tOPERAND\tRANGE\tPREMIUM")
	for _, s := range stitches {
		premium := ""
		if s.Premium {
			premium = premiumColor.Sprint("premium")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%d-%d\t%s\n",
			s.ID, s.Tube, s.Concept, s.Sequence,
			s.Params.Operand, s.Params.RangeStart, s.Params.RangeEnd, premium)
	}
	return w.Flush()
}

func runCurriculumInfo(cmd *cobra.Command, args []string) error {
	stitchID := args[0]
	ctx := cmd.Context()

	db, err := resolveCurriculumStore()
	if err != nil {
		return err
	}
	defer db.Close()

	stitch, err := db.GetStitch(ctx, stitchID)
	if err != nil {
		return err
	}

	// Derive the fact ids the stitch's recipe would request, then check which
	// of them the fact table actually holds.
	var factIDs, missing []string
	if gen, ok := assembly.GeneratorFor(stitch.Concept); ok {
		factIDs = gen(stitch.Params)
		facts, err := db.GetFacts(ctx, factIDs)
		if err != nil {
			return fmt.Errorf("get facts: %w", err)
		}
		present := make(map[string]bool, len(facts))
		for _, f := range facts {
			present[f.ID] = true
		}
		for _, id := range factIDs {
			if !present[id] {
				missing = append(missing, id)
			}
		}
	}

	out := cmd.OutOrStdout()

	if curriculumJSONOutput {
		return printJSON(out, map[string]any{
			"id":            stitch.ID,
			"tube":          stitch.Tube,
			"concept":       stitch.Concept,
			"sequence":      stitch.Sequence,
			"params":        stitch.Params,
			"premium":       stitch.Premium,
			"fact_ids":      factIDs,
			"missing_facts": missing,
		})
	}

	headingColor.Fprintf(out, "Stitch %s\n", stitch.ID)
	w := newTabWriter(out)
	fmt.Fprintf(w, "Tube:\t%d\n", stitch.Tube)
	fmt.Fprintf(w, "Concept:\t%s\n", stitch.Concept)
	fmt.Fprintf(w, "Sequence:\t%d\n", stitch.Sequence)
	fmt.Fprintf(w, "Operand:\t%d\n", stitch.Params.Operand)
	fmt.Fprintf(w, "Range:\t%d-%d\n", stitch.Params.RangeStart, stitch.Params.RangeEnd)
	fmt.Fprintf(w, "Questions:\t%d\n", stitch.Params.QuestionCount)
	fmt.Fprintf(w, "Premium:\t%v\n", stitch.Premium)
	fmt.Fprintf(w, "Facts:\t%d\n", len(factIDs))
	if err := w.Flush(); err != nil {
		return err
	}

	if len(missing) > 0 {
		premiumColor.Fprintf(out, "%d fact(s) missing from the fact table:\n", len(missing))
		for _, id := range missing {
			fmt.Fprintf(out, "  %s\n", id)
		}
	} else if len(factIDs) > 0 {
		okColor.Fprintln(out, "All facts present.")
	}

	return nil
}
