//go:build ignore

// Package main compares two Go benchmark output files and flags
// performance regressions, used to hold the search latency budget.
// Usage: go run scripts/bench-compare.go [options] <current.txt> <baseline.txt>
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

var (
	outputJSON    = flag.Bool("json", false, "Emit the report as JSON")
	threshold     = flag.Float64("threshold", 0.20, "Regression threshold as a fraction (0.20 = 20% slower)")
	verbose       = flag.Bool("verbose", false, "Show unchanged, new, and missing benchmarks too")
	failOnRegress = flag.Bool("fail", true, "Exit non-zero when a regression is found")
)

// improvementThreshold marks results worth calling out as faster.
const improvementThreshold = 0.10

// measurement is one parsed benchmark line.
type measurement struct {
	Name        string  `json:"name"`
	Iterations  int     `json:"iterations"`
	NsPerOp     float64 `json:"ns_per_op"`
	BytesPerOp  int     `json:"bytes_per_op,omitempty"`
	AllocsPerOp int     `json:"allocs_per_op,omitempty"`
}

// delta is the comparison of one benchmark across the two files.
type delta struct {
	Name     string  `json:"name"`
	Current  float64 `json:"current_ns_per_op"`
	Baseline float64 `json:"baseline_ns_per_op"`
	Percent  float64 `json:"delta_percent"`
	Status   string  `json:"status"` // "ok", "regression", "improved", "new", "missing"
}

// report is the full comparison outcome.
type report struct {
	Regressions  int     `json:"regressions"`
	Improvements int     `json:"improvements"`
	Unchanged    int     `json:"unchanged"`
	New          int     `json:"new"`
	Missing      int     `json:"missing"`
	Deltas       []delta `json:"deltas"`
}

// Matches lines like:
// BenchmarkSearch/hybrid-8   1000   1234567 ns/op   4096 B/op   12 allocs/op
var benchLine = regexp.MustCompile(
	`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <current.txt> <baseline.txt>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	current, err := parseFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := parseFile(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	rep := compare(current, baseline, *threshold)

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(rep)
	}

	if *failOnRegress && rep.Regressions > 0 {
		os.Exit(1)
	}
}

func parseFile(path string) (map[string]measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	results := make(map[string]measurement)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m, ok := parseLine(scanner.Text())
		if ok {
			results[m.Name] = m
		}
	}
	return results, scanner.Err()
}

func parseLine(line string) (measurement, bool) {
	groups := benchLine.FindStringSubmatch(line)
	if groups == nil {
		return measurement{}, false
	}

	m := measurement{Name: groups[1]}
	m.Iterations, _ = strconv.Atoi(groups[2])
	m.NsPerOp, _ = strconv.ParseFloat(groups[3], 64)
	if groups[4] != "" {
		m.BytesPerOp, _ = strconv.Atoi(groups[4])
	}
	if groups[5] != "" {
		m.AllocsPerOp, _ = strconv.Atoi(groups[5])
	}
	return m, true
}

func compare(current, baseline map[string]measurement, threshold float64) *report {
	rep := &report{}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		curr := current[name]
		base, ok := baseline[name]
		if !ok {
			rep.New++
			if *verbose {
				rep.Deltas = append(rep.Deltas, delta{Name: name, Current: curr.NsPerOp, Status: "new"})
			}
			continue
		}

		var pct float64
		if base.NsPerOp > 0 {
			pct = (curr.NsPerOp - base.NsPerOp) / base.NsPerOp
		}

		d := delta{
			Name:     name,
			Current:  curr.NsPerOp,
			Baseline: base.NsPerOp,
			Percent:  pct * 100,
		}
		switch {
		case pct > threshold:
			d.Status = "regression"
			rep.Regressions++
		case pct < -improvementThreshold:
			d.Status = "improved"
			rep.Improvements++
		default:
			d.Status = "ok"
			rep.Unchanged++
		}
		if d.Status != "ok" || *verbose {
			rep.Deltas = append(rep.Deltas, d)
		}
	}

	for name, base := range baseline {
		if _, ok := current[name]; !ok {
			rep.Missing++
			if *verbose {
				rep.Deltas = append(rep.Deltas, delta{Name: name, Baseline: base.NsPerOp, Status: "missing"})
			}
		}
	}

	return rep
}

func printReport(rep *report) {
	fmt.Printf("benchmarks: %d regressed, %d improved, %d unchanged, %d new, %d missing\n",
		rep.Regressions, rep.Improvements, rep.Unchanged, rep.New, rep.Missing)

	for _, d := range rep.Deltas {
		switch d.Status {
		case "new":
			fmt.Printf("  NEW        %-50s %12.0f ns/op\n", d.Name, d.Current)
		case "missing":
			fmt.Printf("  MISSING    %-50s %12.0f ns/op (baseline)\n", d.Name, d.Baseline)
		default:
			fmt.Printf("  %-10s %-50s %12.0f ns/op -> %12.0f ns/op (%+.1f%%)\n",
				d.Status, d.Name, d.Baseline, d.Current, d.Percent)
		}
	}

	if rep.Regressions > 0 {
		fmt.Printf("\nFAIL: %d benchmark(s) regressed beyond %.0f%%\n", rep.Regressions, *threshold*100)
	} else {
		fmt.Println("\nPASS: no significant regressions")
	}
}
