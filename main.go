// safeoverride reports Python methods that override a member of an external
// base class without a safe-override marker.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/phobologic/safeoverride/internal/audit"
	"github.com/phobologic/safeoverride/internal/catalog"
	"github.com/phobologic/safeoverride/internal/config"
	"github.com/phobologic/safeoverride/internal/discover"
	"github.com/phobologic/safeoverride/internal/marker"
	"github.com/phobologic/safeoverride/internal/model"
	"github.com/phobologic/safeoverride/internal/report"
	"github.com/phobologic/safeoverride/internal/resolve"
	"github.com/phobologic/safeoverride/internal/walk"
)

var version = "dev"

// errFindings is returned by run when diagnostics were reported.
var errFindings = errors.New("diagnostics reported")

func main() {
	err := run(os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, errFindings):
		os.Exit(1)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "init":
			return runInit(args[1:], stdout, stderr)
		case "catalog":
			return runCatalog(args[1:], stdout, stderr)
		}
	}

	fs := flag.NewFlagSet("safeoverride", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath  string
		format      string
		catalogs    stringList
		excludes    stringList
		cachePath   string
		maxFileSize int
		exitZero    bool
		verbose     bool
		showVersion bool
	)

	fs.StringVar(&configPath, "c", "", "config file (default: <root>/"+config.DefaultFileName+")")
	fs.StringVar(&configPath, "config", "", "config file (default: <root>/"+config.DefaultFileName+")")
	fs.StringVar(&format, "f", "", "output format: "+strings.Join(config.Formats, ", "))
	fs.StringVar(&format, "format", "", "output format: "+strings.Join(config.Formats, ", "))
	fs.Var(&catalogs, "catalog", "additional interface catalog (repeatable)")
	fs.Var(&excludes, "exclude", "skip paths matching this glob (repeatable)")
	fs.StringVar(&cachePath, "cache", "", "cache file path")
	fs.IntVar(&maxFileSize, "max-file-size", config.DefaultMaxFileSize, "skip files larger than this many bytes")
	fs.BoolVar(&exitZero, "exit-zero", false, "exit 0 even when diagnostics are reported")
	fs.BoolVar(&verbose, "v", false, "enable debug logging")
	fs.BoolVar(&verbose, "verbose", false, "enable debug logging")
	fs.BoolVar(&showVersion, "V", false, "show version and exit")
	fs.BoolVar(&showVersion, "version", false, "show version and exit")

	if err := fs.Parse(reorderArgs(args)); err != nil {
		return err
	}

	if showVersion {
		_, _ = fmt.Fprintf(stdout, "safeoverride %s\n", version)
		return nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	root := "."
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	cfg, err := config.Discover(configPath, root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags given on the command line override the config file.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if format != "" {
		cfg.Output.Format = format
	}
	if set["max-file-size"] {
		cfg.Analysis.MaxFileSize = maxFileSize
	}
	if exitZero {
		cfg.Output.ExitZero = true
	}
	cfg.Analysis.Exclude = append(cfg.Analysis.Exclude, excludes...)
	cfg.Catalog.Paths = append(cfg.Catalog.Paths, catalogs...)
	if err := cfg.Validate(); err != nil {
		return err
	}

	globs, err := cfg.ExcludeGlobs()
	if err != nil {
		return err
	}

	// Discover files
	files, err := discover.Files(root, discover.Options{
		Languages:   []string{"python"},
		Exclude:     globs,
		SourceRoots: cfg.Analysis.SourceRoots,
	})
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no Python files found")
	}

	// Check cache freshness
	key := newCacheKey(root, cfg, files)
	if cachePath != "" && cacheIsFresh(cachePath, root, files, cacheInputs(cfg)) {
		rep, err := readCache(cachePath, key)
		if err == nil {
			logger.Debug("using cached report", "cache", cachePath)
			return finish(stdout, cfg, rep)
		}
		logger.Debug("ignoring cache", "cache", cachePath, "error", err)
	}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}

	rules := audit.NewRules()
	if err := audit.Register(rules); err != nil {
		return fmt.Errorf("registering rules: %w", err)
	}
	for _, key := range cfg.Rules.Disable {
		if err := rules.Disable(key); err != nil {
			return fmt.Errorf("rules.disable: %w", err)
		}
	}

	// The project index covers every discovered file, including those
	// skipped below for size, so imports of large modules stay internal.
	moduleNames := make([]string, len(files))
	for i, f := range files {
		moduleNames[i] = f.Module
	}
	resolver := resolve.New(resolve.NewProjectIndex(moduleNames), cat, logger)
	markers := marker.New(cfg.Markers.SafeOverride, cfg.Markers.BareNames)

	// Filter by size
	if cfg.Analysis.MaxFileSize > 0 {
		files = filterBySize(root, files, cfg.Analysis.MaxFileSize, logger)
	}
	if len(files) == 0 {
		return fmt.Errorf("no Python files found (all exceeded size limit)")
	}

	// Parse and audit files concurrently
	analyzed, diags := analyzeConcurrent(root, files, rules, resolver, markers, logger)
	if analyzed == 0 {
		return fmt.Errorf("no files could be parsed")
	}

	rep := &model.Report{
		Root:        filepath.Base(root),
		Files:       analyzed,
		Diagnostics: diags,
	}
	for _, r := range rules.Enabled() {
		rep.Rules = append(rep.Rules, model.RuleInfo{
			ID:          r.ID,
			Symbol:      r.Symbol,
			Message:     r.Message,
			Description: r.Description,
		})
	}

	// Write cache
	if cachePath != "" {
		if err := writeCache(cachePath, key, rep); err != nil {
			logger.Warn("failed to write cache", "cache", cachePath, "error", err)
		}
	}

	return finish(stdout, cfg, rep)
}

func finish(stdout io.Writer, cfg *config.Config, rep *model.Report) error {
	if err := report.Write(stdout, cfg.Output.Format, version, rep); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if len(rep.Diagnostics) > 0 && !cfg.Output.ExitZero {
		return errFindings
	}
	return nil
}

// loadCatalog merges the embedded catalog (unless disabled) with every
// configured catalog file, later files taking precedence.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	cat := catalog.New()
	if cfg.Catalog.DefaultIncluded() {
		def, err := catalog.Default()
		if err != nil {
			return nil, err
		}
		cat.Merge(def)
	}
	for _, path := range cfg.Catalog.Paths {
		c, err := catalog.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
		cat.Merge(c)
	}
	return cat, nil
}

// cacheInputs lists the non-source files whose changes invalidate the cache.
func cacheInputs(cfg *config.Config) []string {
	var inputs []string
	if p := cfg.Path(); p != "" {
		inputs = append(inputs, p)
	}
	return append(inputs, cfg.Catalog.Paths...)
}

func cacheIsFresh(cachePath, root string, files []discover.FileEntry, inputs []string) bool {
	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		return false
	}
	cacheMtime := cacheInfo.ModTime()

	paths := make([]string, 0, len(files)+len(inputs))
	for _, f := range files {
		paths = append(paths, filepath.Join(root, f.Path))
	}
	paths = append(paths, inputs...)

	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return false
		}
		if !fi.ModTime().Before(cacheMtime) {
			return false
		}
	}
	return true
}

// errStaleCache means a cache file was written for different settings or a
// different set of files.
var errStaleCache = errors.New("cache was built from different inputs")

// cacheKey records everything besides file contents that a cached report
// depends on. Output settings are excluded since the report is rendered on
// every run.
type cacheKey struct {
	Version  string          `json:"version"`
	Builtins string          `json:"builtins_digest"`
	Root     string          `json:"root"`
	Analysis config.Analysis `json:"analysis"`
	Markers  config.Markers  `json:"markers"`
	Catalog  config.Catalog  `json:"catalog"`
	Rules    config.Rules    `json:"rules"`
	Files    []string        `json:"files"`
}

type cacheEntry struct {
	Key    cacheKey      `json:"key"`
	Report *model.Report `json:"report"`
}

// newCacheKey describes a run over files, the full discovered set before
// any size filtering.
func newCacheKey(root string, cfg *config.Config, files []discover.FileEntry) cacheKey {
	key := cacheKey{
		Version:  version,
		Builtins: catalog.DefaultDigest(),
		Root:     root,
		Analysis: cfg.Analysis,
		Markers:  cfg.Markers,
		Catalog:  cfg.Catalog,
		Rules:    cfg.Rules,
		Files:    make([]string, len(files)),
	}
	for i, f := range files {
		key.Files[i] = filepath.ToSlash(f.Path)
	}
	return key
}

func readCache(path string, key cacheKey) (*model.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding cache: %w", err)
	}
	if entry.Report == nil {
		return nil, fmt.Errorf("decoding cache: missing report")
	}

	want, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	got, err := json.Marshal(entry.Key)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(got, want) {
		return nil, errStaleCache
	}
	return entry.Report, nil
}

func writeCache(path string, key cacheKey, rep *model.Report) error {
	data, err := json.Marshal(cacheEntry{Key: key, Report: rep})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func filterBySize(root string, files []discover.FileEntry, maxSize int, logger *slog.Logger) []discover.FileEntry {
	var kept []discover.FileEntry
	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			kept = append(kept, f) // keep if can't stat
			continue
		}
		if fi.Size() > int64(maxSize) {
			logger.Warn("skipped file over size limit", "file", f.Path, "limit", maxSize)
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// analyzeConcurrent parses and audits files on a bounded worker pool. It
// returns the number of files analyzed and their diagnostics in file order.
func analyzeConcurrent(root string, files []discover.FileEntry, rules *audit.Rules,
	resolver *resolve.Resolver, markers *marker.Detector, logger *slog.Logger) (int, []model.Diagnostic) {
	type result struct {
		index int
		diags []model.Diagnostic
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each goroutine gets its own walker per language
			walkers := make(map[string]*walk.Walker)
			defer func() {
				for _, w := range walkers {
					w.Close()
				}
			}()

			for idx := range work {
				f := files[idx]
				w, ok := walkers[f.Language]
				if !ok {
					var err error
					w, err = walk.New(f.Language)
					if err != nil {
						logger.Warn("no walker for language", "language", f.Language, "error", err)
						continue
					}
					walkers[f.Language] = w
				}

				source, err := os.ReadFile(filepath.Join(root, f.Path))
				if err != nil {
					logger.Warn("failed to read file", "file", f.Path, "error", err)
					continue
				}

				mod, err := w.Walk(source, filepath.ToSlash(f.Path), f.Module)
				if err != nil {
					logger.Warn("failed to parse file", "file", f.Path, "error", err)
					continue
				}

				results <- result{index: idx, diags: rules.Run(mod, resolver, markers)}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in original order
	indexed := make([][]model.Diagnostic, len(files))
	valid := make([]bool, len(files))
	for r := range results {
		indexed[r.index] = r.diags
		valid[r.index] = true
	}

	analyzed := 0
	var diags []model.Diagnostic
	for i, v := range valid {
		if v {
			analyzed++
			diags = append(diags, indexed[i]...)
		}
	}
	return analyzed, diags
}

// flagsWithValue lists flags that take a value argument.
var flagsWithValue = map[string]bool{
	"-c": true, "--c": true,
	"-config": true, "--config": true,
	"-f": true, "--f": true,
	"-format": true, "--format": true,
	"-catalog": true, "--catalog": true,
	"-exclude": true, "--exclude": true,
	"-cache": true, "--cache": true,
	"-max-file-size": true, "--max-file-size": true,
}

// reorderArgs moves positional arguments after all flags so Go's flag package
// can parse them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if len(args[i]) > 0 && args[i][0] == '-' {
			flags = append(flags, args[i])
			if flagsWithValue[args[i]] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
