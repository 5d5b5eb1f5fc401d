// Report tool for Chimera test tooling.
//
// Runs one of the benchmark, fuzz or coverage suites and writes a report
// to target/reports/<suite>.txt. Exits non-zero when the suite fails.
//
// Usage:
//
//	go run ./scripts/report bench
//	go run ./scripts/report fuzz
//	go run ./scripts/report coverage
//
// BENCH_TIME (default 3s) and FUZZ_TIME (default 30s) tune the run length.
// Coverage is checked against scripts/report/coverage_required.txt, which is
// raised whenever coverage improves.
package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type fuzzTarget struct {
	Function string
	Package  string
}

var fuzzTargets = []fuzzTarget{
	{Function: "FuzzCompileTerms", Package: "./internal/query/"},
	{Function: "FuzzParse", Package: "./internal/catalog/"},
	{Function: "FuzzExpandEnvVars", Package: "./internal/config/"},
}

// Packages whose benchmarks make up the bench report.
var benchPackages = []string{
	"./internal/query/",
	"./internal/emit/",
	"./internal/store/",
}

// Files excluded from the coverage total.
var coverageSkip = []string{
	"/docs/swagger/",
	"/cmd/",
	"/scripts/",
}

var (
	reExecs          = regexp.MustCompile(`execs:\s+(\d+)\s+\((\d+)/sec\)`)
	reNewInteresting = regexp.MustCompile(`new interesting:\s+(\d+)`)
	sep              = strings.Repeat("=", 72)
	thin             = strings.Repeat("-", 72)
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: go run ./scripts/report bench|fuzz|coverage")
		os.Exit(2)
	}

	root := projectRoot()
	reportDir := filepath.Join(root, "target", "reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		log.Fatalf("creating report directory: %v", err)
	}

	var ok bool
	switch os.Args[1] {
	case "bench":
		ok = bench(root, reportDir)
	case "fuzz":
		ok = fuzz(root, reportDir)
	case "coverage":
		ok = coverage(root, reportDir)
	default:
		log.Fatalf("unknown suite %q", os.Args[1])
	}
	if !ok {
		os.Exit(1)
	}
}

// goRun runs the go tool in root, echoing and capturing its output.
func goRun(root string, args ...string) (string, error) {
	cmd := exec.Command("go", args...)
	cmd.Dir = root
	var buf bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &buf)
	err := cmd.Run()
	return buf.String(), err
}

func header(title string, extra ...string) *strings.Builder {
	var sb strings.Builder
	sb.WriteString("Chimera " + title + "\n")
	sb.WriteString(sep + "\n")
	fmt.Fprintf(&sb, "Generated:   %s\n", time.Now().Format(time.RFC1123))
	fmt.Fprintf(&sb, "Go Version:  %s\n", goVersion())
	fmt.Fprintf(&sb, "OS/Arch:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
	for _, line := range extra {
		sb.WriteString(line + "\n")
	}
	sb.WriteString(sep + "\n\n")
	return &sb
}

func save(reportDir, name string, sb *strings.Builder) {
	path := filepath.Join(reportDir, name)
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		log.Fatalf("writing %s: %v", name, err)
	}
	fmt.Printf("\nReport: %s\n", path)
}

func bench(root, reportDir string) bool {
	benchTime := envOr("BENCH_TIME", "3s")
	fmt.Printf("Running benchmarks (benchtime=%s)...\n\n", benchTime)

	args := append([]string{"test", "-bench=.", "-benchmem", "-benchtime=" + benchTime, "-run=^$"}, benchPackages...)
	out, err := goRun(root, args...)

	sb := header("Benchmark Report", "Bench Time:  "+benchTime+" per benchmark")
	sb.WriteString(out)
	if err != nil {
		fmt.Fprintf(sb, "\n[ERROR] %v\n", err)
	}
	save(reportDir, "bench.txt", sb)
	return err == nil
}

type fuzzResult struct {
	Target         fuzzTarget
	Duration       time.Duration
	Execs          int64
	ExecsPerSec    int64
	NewInteresting int
	Passed         bool
	Output         string
}

func fuzz(root, reportDir string) bool {
	fuzzTime := envOr("FUZZ_TIME", "30s")
	fmt.Printf("Running %d fuzz targets (fuzztime=%s each)...\n\n", len(fuzzTargets), fuzzTime)

	results := make([]fuzzResult, 0, len(fuzzTargets))
	failures := 0
	for _, target := range fuzzTargets {
		fmt.Printf("--- %s (%s) ---\n", target.Function, target.Package)
		r := runFuzz(root, target, fuzzTime)
		results = append(results, r)
		if !r.Passed {
			failures++
		}
	}

	sb := header("Fuzz Testing Report", "Fuzz Time:   "+fuzzTime+" per target")
	sb.WriteString("Summary\n" + thin + "\n")
	fmt.Fprintf(sb, "  %-32s  %-6s  %12s  %s\n", "Target", "Status", "Execs", "New Corpus")
	sb.WriteString(thin + "\n")
	var total int64
	for _, r := range results {
		total += r.Execs
		fmt.Fprintf(sb, "  %-32s  %-6s  %12d  %d\n", r.Target.Function, status(r.Passed), r.Execs, r.NewInteresting)
	}
	sb.WriteString(thin + "\n")
	fmt.Fprintf(sb, "  Total executions: %d\n  Failed targets:   %d\n\n", total, failures)

	sb.WriteString("Detailed Output\n" + sep + "\n\n")
	for _, r := range results {
		fmt.Fprintf(sb, "[%s] %s (%s, %s, %d execs/sec)\n",
			status(r.Passed), r.Target.Function, r.Target.Package, r.Duration.Round(time.Millisecond), r.ExecsPerSec)
		for line := range strings.SplitSeq(strings.TrimRight(r.Output, "\n"), "\n") {
			fmt.Fprintf(sb, "    %s\n", line)
		}
		sb.WriteString("\n")
	}
	save(reportDir, "fuzz.txt", sb)
	return failures == 0
}

func runFuzz(root string, target fuzzTarget, fuzzTime string) fuzzResult {
	start := time.Now()
	out, err := goRun(root, "test", "-run=^$", "-fuzz=^"+target.Function+"$", "-fuzztime="+fuzzTime, target.Package)

	r := fuzzResult{Target: target, Duration: time.Since(start), Output: out}
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.HasPrefix(lines[i], "fuzz: elapsed:") {
			continue
		}
		if m := reExecs.FindStringSubmatch(lines[i]); m != nil {
			r.Execs, _ = strconv.ParseInt(m[1], 10, 64)
			r.ExecsPerSec, _ = strconv.ParseInt(m[2], 10, 64)
		}
		if m := reNewInteresting.FindStringSubmatch(lines[i]); m != nil {
			r.NewInteresting, _ = strconv.Atoi(m[1])
		}
		break
	}
	// The fuzz timer can race test finalization and report a deadline error
	// without a failing input; only a written corpus entry is a real failure.
	r.Passed = err == nil ||
		(strings.Contains(out, "context deadline exceeded") && !strings.Contains(out, "Failing input written to"))
	return r
}

func coverage(root, reportDir string) bool {
	requiredFile := filepath.Join(root, "scripts", "report", "coverage_required.txt")
	required, err := readRequired(requiredFile)
	if err != nil {
		log.Fatalf("reading coverage threshold: %v", err)
	}
	fmt.Printf("Coverage threshold: %d%%\n\n", required)

	profile := filepath.Join(reportDir, "coverage.out")
	filtered := filepath.Join(reportDir, "coverage-filtered.out")
	if _, err := goRun(root, "test", "./...", "-count=1", "-race", "-coverprofile="+profile); err != nil {
		fmt.Printf("tests failed: %v\n", err)
		return false
	}
	if err := filterProfile(profile, filtered); err != nil {
		log.Fatalf("filtering coverage profile: %v", err)
	}

	funcs, err := goRun(root, "tool", "cover", "-func="+filtered)
	if err != nil {
		log.Fatalf("generating coverage report: %v", err)
	}
	total, err := totalCoverage(funcs)
	if err != nil {
		log.Fatalf("extracting total coverage: %v", err)
	}

	sb := header("Coverage Report", fmt.Sprintf("Total:       %d%%", total), fmt.Sprintf("Required:    %d%%", required))
	sb.WriteString(funcs)
	save(reportDir, "coverage.txt", sb)

	if _, err := goRun(root, "tool", "cover", "-html="+filtered, "-o", filepath.Join(reportDir, "coverage.html")); err != nil {
		fmt.Printf("Warning: could not generate HTML report: %v\n", err)
	}

	switch {
	case total < required:
		fmt.Printf("\nCoverage %d%% is below threshold %d%%\n", total, required)
		return false
	case total > required:
		fmt.Printf("\nCoverage improved, raising threshold from %d%% to %d%%\n", required, total)
		if err := os.WriteFile(requiredFile, []byte(strconv.Itoa(total)+"\n"), 0o644); err != nil {
			log.Fatalf("updating coverage threshold: %v", err)
		}
	}
	return true
}

func totalCoverage(funcs string) (int, error) {
	for line := range strings.SplitSeq(funcs, "\n") {
		if !strings.HasPrefix(line, "total:") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			return 0, fmt.Errorf("unexpected total coverage line: %s", line)
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(parts[2], "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing coverage percentage %q: %w", parts[2], err)
		}
		return int(pct), nil
	}
	return 0, fmt.Errorf("total coverage not found in output")
}

func readRequired(path string) (int, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(content)))
}

// filterProfile drops generated and entry-point files from a cover profile.
func filterProfile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	var kept []string
	for line := range strings.SplitSeq(string(data), "\n") {
		if !skipCoverage(line) {
			kept = append(kept, line)
		}
	}
	return os.WriteFile(dst, []byte(strings.Join(kept, "\n")), 0o644)
}

func skipCoverage(line string) bool {
	for _, s := range coverageSkip {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func status(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func goVersion() string {
	out, err := exec.Command("go", "version").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func projectRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		log.Fatal("could not determine script directory")
	}
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			log.Fatal("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}
