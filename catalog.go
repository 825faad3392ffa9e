package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/phobologic/safeoverride/internal/catalog"
	"github.com/phobologic/safeoverride/internal/config"
	"github.com/phobologic/safeoverride/internal/discover"
	"github.com/phobologic/safeoverride/internal/model"
	"github.com/phobologic/safeoverride/internal/resolve"
	"github.com/phobologic/safeoverride/internal/walk"
)

// runCatalog implements the `safeoverride catalog` subcommand, which builds
// an interface catalog from the Python sources or stubs of a dependency.
func runCatalog(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("safeoverride catalog", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		outPath  string
		excludes stringList
		verbose  bool
	)
	fs.StringVar(&outPath, "o", "", "write the catalog to this file instead of stdout")
	fs.StringVar(&outPath, "output", "", "write the catalog to this file instead of stdout")
	fs.Var(&excludes, "exclude", "skip paths matching this glob (repeatable)")
	fs.BoolVar(&verbose, "v", false, "enable debug logging")
	fs.BoolVar(&verbose, "verbose", false, "enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: safeoverride catalog [flags] DIR [package...]

Generate an interface catalog from the Python sources or .pyi stubs under DIR,
typically a site-packages directory or a stub distribution. Only the named
top-level packages are described when any are given. Stubs take precedence
over sources of the same module.

Flags:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(reorderArgs(args)); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("catalog: missing source directory")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	dir := fs.Arg(0)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", dir)
	}

	globs, err := config.CompileGlobs(excludes)
	if err != nil {
		return err
	}

	files, err := discover.Files(dir, discover.Options{
		Languages: []string{"python"},
		Exclude:   globs,
	})
	if err != nil {
		return fmt.Errorf("discovering files: %w", err)
	}
	files = filterPackages(files, fs.Args()[1:])
	if len(files) == 0 {
		return fmt.Errorf("no Python files found under %s", dir)
	}

	builtins, err := catalog.Default()
	if err != nil {
		return err
	}

	cat, err := buildCatalog(dir, files, builtins, logger)
	if err != nil {
		return err
	}

	data, err := cat.Marshal()
	if err != nil {
		return err
	}

	if outPath == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	_, _ = fmt.Fprintf(stderr, "wrote %d modules to %s\n", len(cat.Modules()), outPath)
	return nil
}

// filterPackages keeps files belonging to one of packages, or every file
// when packages is empty.
func filterPackages(files []discover.FileEntry, packages []string) []discover.FileEntry {
	if len(packages) == 0 {
		return files
	}
	var kept []discover.FileEntry
	for _, f := range files {
		for _, p := range packages {
			if f.Module == p || strings.HasPrefix(f.Module, p+".") {
				kept = append(kept, f)
				break
			}
		}
	}
	return kept
}

// buildCatalog walks files in path order. Discovery sorts "mod.py" before
// "mod.pyi", so stub descriptors replace source descriptors.
func buildCatalog(dir string, files []discover.FileEntry, builtins *catalog.Catalog, logger *slog.Logger) (*catalog.Catalog, error) {
	w, err := walk.New("python")
	if err != nil {
		return nil, err
	}
	defer w.Close()

	isBuiltin := func(name string) bool {
		_, err := builtins.Class(catalog.BuiltinsModule, name)
		return err == nil
	}

	cat := catalog.New()
	for _, f := range files {
		source, err := os.ReadFile(filepath.Join(dir, f.Path))
		if err != nil {
			logger.Warn("failed to read file", "file", f.Path, "error", err)
			continue
		}
		mod, err := w.Walk(source, filepath.ToSlash(f.Path), f.Module)
		if err != nil {
			logger.Warn("failed to parse file", "file", f.Path, "error", err)
			continue
		}

		if mod.IsPackage {
			addReexports(cat, mod)
		}
		for _, cls := range mod.Classes {
			if cls.Nested {
				continue
			}
			cat.AddClass(mod.Name, cls.Name, catalog.ClassSpec{
				Bases:   qualifiedBases(mod, cls, isBuiltin, logger),
				Members: cls.Members,
			})
		}
	}
	return cat, nil
}

func qualifiedBases(mod *model.Module, cls *model.ClassDef, isBuiltin func(string) bool, logger *slog.Logger) []string {
	var bases []string
	for _, ref := range cls.Bases {
		t, ok := resolve.Qualify(mod, ref, isBuiltin)
		if !ok {
			logger.Debug("dropping unresolvable base",
				"module", mod.Name, "class", cls.Name, "base", ref.Expr)
			continue
		}
		bases = append(bases, t.Qualified())
	}
	return bases
}

// addReexports describes names a package imports from its own submodules as
// classes whose only base is the imported definition, so "pkg.Name" and
// "pkg.sub.Name" share a member set.
func addReexports(cat *catalog.Catalog, mod *model.Module) {
	top, _, _ := strings.Cut(mod.Name, ".")
	for _, imp := range mod.Imports {
		if imp.Name == "" || imp.Name == "*" {
			continue
		}
		ref := model.BaseRef{Expr: imp.Local, Kind: model.BaseName}
		t, ok := resolve.Qualify(mod, ref, nil)
		if !ok || t.Local {
			continue
		}
		if targetTop, _, _ := strings.Cut(t.Module, "."); targetTop != top {
			continue
		}
		cat.AddClass(mod.Name, imp.Local, catalog.ClassSpec{Bases: []string{t.Qualified()}})
	}
}
