package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/phobologic/safeoverride/internal/config"
)

const (
	sentinelStart = "# safeoverride:start"
	sentinelEnd   = "# safeoverride:end"
)

// runInit implements the `safeoverride init` subcommand, which writes (or
// updates) the default configuration block in a .safeoverride.toml file.
func runInit(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("safeoverride init", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var dryRun bool
	fs.BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying the file")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: safeoverride init [flags] [path-to-config]

Write the default safeoverride configuration to a TOML file. The block is
wrapped in sentinel comments so it can be updated in place on subsequent runs
without touching surrounding content. Creates the file if it does not exist.

path-to-config defaults to ./%s.

Flags:
`, config.DefaultFileName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	section := generateSection(config.Default())

	// --dry-run with no path: just print the section itself.
	if dryRun && fs.NArg() == 0 {
		_, _ = fmt.Fprintln(stdout, section)
		return nil
	}

	path := config.DefaultFileName
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	existing, _ := os.ReadFile(path)
	updated := applySection(string(existing), section)

	if dryRun {
		_, _ = fmt.Fprint(stdout, updated)
		return nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(stderr, "wrote safeoverride config to %s\n", path)
	return nil
}

// generateSection returns the sentinel-wrapped TOML block for cfg.
func generateSection(cfg *config.Config) string {
	var b strings.Builder
	b.WriteString(sentinelStart + "\n")
	b.WriteString(`# Managed by "safeoverride init". Edits inside this block are replaced
# on the next run; move a table below the end marker to customise it.

[analysis]
# Directories stripped from paths when computing module names.
source_roots = ` + tomlList(cfg.Analysis.SourceRoots) + `
# Glob patterns (with ** for any depth) of paths to skip.
exclude = ` + tomlList(cfg.Analysis.Exclude) + `
max_file_size = ` + strconv.Itoa(cfg.Analysis.MaxFileSize) + `

[markers]
# Qualified decorators that mark a method as a safe override.
safe_override = ` + tomlList(cfg.Markers.SafeOverride) + `
# Unbound decorator names accepted as markers.
bare_names = ` + tomlList(cfg.Markers.BareNames) + `

[catalog]
# Extra interface catalogs, generated with "safeoverride catalog".
paths = ` + tomlList(cfg.Catalog.Paths) + `
include_default = ` + strconv.FormatBool(cfg.Catalog.DefaultIncluded()) + `

[output]
format = ` + strconv.Quote(cfg.Output.Format) + `
exit_zero = ` + strconv.FormatBool(cfg.Output.ExitZero) + `
`)
	b.WriteString(sentinelEnd)
	return b.String()
}

func tomlList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if len(content) == 0 {
		return section + "\n"
	}
	return content + "\n" + section + "\n"
}
