/*
Command partis runs the paired heavy/light clonal-family reconciliation
pipeline: PairCleaner, BadPairFilter, JointMerger, and per-family
SelectionMetrics, end to end over ndjson annotation bundles. Grounded on
poly/main.go's application()/run(args) split.
*/
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	os.Exit(run(os.Args))
}

// run is separated from main for testability, mirroring poly/main.go.
func run(args []string) int {
	app := application()
	if err := app.Run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}

func application() *cli.App {
	return &cli.App{
		Name:  "partis",
		Usage: "reconcile paired heavy/light BCR clonal families and compute tree selection metrics",
		Commands: []*cli.Command{
			{
				Name:  "merge",
				Usage: "run PairCleaner, BadPairFilter, and JointMerger over a heavy and a light ndjson bundle",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "heavy", Required: true, Usage: "path to the heavy-chain ndjson bundle"},
					&cli.StringFlag{Name: "light", Required: true, Usage: "path to the light-chain ndjson bundle"},
					&cli.StringFlag{Name: "light-locus", Value: "light-kappa", Usage: "light-kappa or light-lambda: the configured-correct light locus"},
					&cli.StringFlag{Name: "out", Required: true, Usage: "path to write the joint partition's ndjson records"},
					&cli.BoolFlag{Name: "is-data", Usage: "enable real-data-only pair-cleaning steps (remove-unproductive)"},
					&cli.BoolFlag{Name: "collapse-similar-paired-seqs", Usage: "collapse near-identical same-locus sequences within an over-large pid-group"},
				},
				Action: mergeCommand,
			},
			{
				Name:  "metrics",
				Usage: "compute per-family selection metrics over a joint partition and a newick tree sidecar",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "joint", Required: true, Usage: "path to the joint partition's ndjson records"},
					&cli.StringFlag{Name: "trees", Required: true, Usage: "path to the newick tree sidecar, one tree per line, in family order"},
					&cli.StringFlag{Name: "out", Required: true, Usage: "path to write the selection-metric sidecar ndjson"},
					&cli.BoolFlag{Name: "normalize-lbi", Usage: "normalize LBI as (lbi - tau) / (bound - tau), bound interpolated from sequence length"},
				},
				Action: metricsCommand,
			},
		},
	}
}
