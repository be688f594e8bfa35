package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/scharch/partis/annotation"
	"github.com/scharch/partis/badpair"
	"github.com/scharch/partis/evaluate"
	"github.com/scharch/partis/jointmerge"
	"github.com/scharch/partis/ndjson"
	"github.com/scharch/partis/pairclean"
	"github.com/scharch/partis/perr"
	"github.com/scharch/partis/selection"
	"github.com/scharch/partis/sequence"
	"github.com/scharch/partis/tree"
)

// tmpDirEnv names the optional environment variable that points at a
// working directory for temporary files (the metrics sidecar is staged
// there before its final rename), spec.md 6. Empty (the default) means
// os.TempDir().
const tmpDirEnv = "PARTIS_TMPDIR"

func workingDir() string {
	if d := os.Getenv(tmpDirEnv); d != "" {
		return d
	}
	return os.TempDir()
}

// exitCodeFor maps a pipeline error to spec.md 6's exit codes: 2 malformed
// annotation input; 3 partition invariant violation; 4 tree/annotation
// mismatch; any other error is a generic failure (1).
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, perr.ErrInputMalformed):
		return 2
	case errors.Is(err, perr.ErrInconsistentPairing), errors.Is(err, perr.ErrDuplicateUid):
		return 3
	case errors.Is(err, perr.ErrTreeAnnotationMismatch):
		return 4
	default:
		return 1
	}
}

func readPartition(path string, locus sequence.Locus) (*annotation.Partition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perr.ErrInputMalformed, err)
	}
	defer f.Close()

	p := &annotation.Partition{}
	parser := ndjson.NewParser(f)
	i := 0
	for {
		rec, err := parser.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		family := rec.Family
		if family == "" {
			family = fmt.Sprintf("family-%d", i)
		}
		a, err := rec.ToAnnotation(family, locus)
		if err != nil {
			return nil, err
		}
		p.Clusters = append(p.Clusters, a)
		i++
	}
	return p, nil
}

func parseLightLocus(s string) (sequence.Locus, error) {
	switch sequence.Locus(s) {
	case sequence.LightKappa, sequence.LightLambda:
		return sequence.Locus(s), nil
	default:
		return "", fmt.Errorf("%w: light-locus must be light-kappa or light-lambda, got %q", perr.ErrInputMalformed, s)
	}
}

func mergeCommand(c *cli.Context) error {
	lightLocus, err := parseLightLocus(c.String("light-locus"))
	if err != nil {
		return err
	}

	heavy, err := readPartition(c.String("heavy"), sequence.Heavy)
	if err != nil {
		return err
	}
	light, err := readPartition(c.String("light"), lightLocus)
	if err != nil {
		return err
	}

	partitions := map[sequence.Locus]*annotation.Partition{
		sequence.Heavy: heavy,
		lightLocus:     light,
	}
	cleanOpts := pairclean.Options{
		IsData:                    c.Bool("is-data"),
		CollapseSimilarPairedSeqs: c.Bool("collapse-similar-paired-seqs"),
		RemoveUnproductive:        c.Bool("is-data"),
	}
	if _, err := pairclean.Clean(partitions, cleanOpts); err != nil {
		return err
	}

	badOpts := badpair.Options{LightLocus: lightLocus}
	heavyResult, err := badpair.Filter(sequence.Heavy, partitions, badOpts)
	if err != nil {
		return err
	}
	lightResult, err := badpair.Filter(lightLocus, partitions, badOpts)
	if err != nil {
		return err
	}

	jp, err := jointmerge.Merge(heavyResult.Partition, lightResult.Partition, heavyResult.Unpaired, lightResult.Unpaired, jointmerge.Options{})
	if err != nil {
		return err
	}

	evaluate.TabulateMatrices(os.Stderr, map[string]evaluate.ConfusionMatrix{
		string(sequence.Heavy): evaluate.Tabulate(heavyResult.Classifications),
		string(lightLocus):     evaluate.Tabulate(lightResult.Classifications),
	})

	out, err := os.Create(c.String("out"))
	if err != nil {
		return fmt.Errorf("%w: %v", perr.ErrInputMalformed, err)
	}
	defer out.Close()

	w := ndjson.NewWriter(out)
	for _, jc := range jp.Clusters {
		if jc.Heavy != nil {
			if err := w.WriteRecord(ndjson.FromAnnotation(jc.Heavy)); err != nil {
				return err
			}
		}
		if jc.Light != nil {
			if err := w.WriteRecord(ndjson.FromAnnotation(jc.Light)); err != nil {
				return err
			}
		}
	}
	return nil
}

func metricsCommand(c *cli.Context) error {
	jointFile, err := os.Open(c.String("joint"))
	if err != nil {
		return fmt.Errorf("%w: %v", perr.ErrInputMalformed, err)
	}
	defer jointFile.Close()

	var families []*annotation.Annotation
	parser := ndjson.NewParser(jointFile)
	i := 0
	for {
		rec, err := parser.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		family := rec.Family
		if family == "" {
			family = fmt.Sprintf("family-%d", i)
		}
		a, err := rec.ToAnnotation(family, "")
		if err != nil {
			return err
		}
		families = append(families, a)
		i++
	}

	treeFile, err := os.Open(c.String("trees"))
	if err != nil {
		return fmt.Errorf("%w: %v", perr.ErrInputMalformed, err)
	}
	defer treeFile.Close()
	newicks, err := readLines(treeFile)
	if err != nil {
		return err
	}
	if len(newicks) != len(families) {
		return fmt.Errorf("%w: %d trees for %d families", perr.ErrTreeAnnotationMismatch, len(newicks), len(families))
	}

	trees := make([]*tree.Tree, len(families))
	for i, nwk := range newicks {
		t, err := tree.ParseNewick(nwk)
		if err != nil {
			return fmt.Errorf("%w: family %s: %v", perr.ErrTreeAnnotationMismatch, families[i].Family, err)
		}
		trees[i] = t
	}

	metricsOut := make([]*selection.Metrics, len(families))

	grp := new(errgroup.Group)
	grp.SetLimit(runtime.GOMAXPROCS(0))
	opts := selection.Options{NormalizeLBI: c.Bool("normalize-lbi")}
	for idx := range families {
		idx := idx
		grp.Go(func() error {
			m, err := selection.Compute(trees[idx], families[idx], opts)
			if err != nil {
				return err
			}
			metricsOut[idx] = m
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	// stage the sidecar under the configured working directory before the
	// final rename, so a crash mid-write never leaves a truncated file at
	// the requested output path.
	tmp, err := os.CreateTemp(workingDir(), "partis-metrics-*.ndjson")
	if err != nil {
		return fmt.Errorf("%w: %v", perr.ErrInputMalformed, err)
	}
	w := ndjson.NewWriter(tmp)
	for i, fam := range families {
		if err := w.WriteMetrics(ndjson.FromMetrics(fam.Family, metricsOut[i])); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
	}
	tmp.Close()
	return os.Rename(tmp.Name(), c.String("out"))
}

func readLines(f *os.File) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
