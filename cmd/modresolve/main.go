// Command modresolve exercises the resolution core from the command
// line: a kong CLI struct with embedded sub-commands and a Globals value
// carried through Run, with one flat command set rather than per-backend
// sub-CLIs, since this core has a single resolution pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/a-h/modresolve/condition"
	"github.com/a-h/modresolve/exports"
	"github.com/a-h/modresolve/fetchcache"
	"github.com/a-h/modresolve/httpresolve"
	"github.com/a-h/modresolve/persistcache"
	"github.com/a-h/modresolve/pluginctx"
	"github.com/a-h/modresolve/resolver"
	"github.com/a-h/modresolve/tarball"
	"github.com/a-h/modresolve/vfs"
	"github.com/a-h/modresolve/vfsresolve"
)

// globals carries flags common to every sub-command. A multi-rooted CLI
// with several independent entry points would split this into its own
// subpackage so each root could share it; this module has one CLI root,
// so it lives here instead.
type globals struct {
	Verbose bool `help:"Enable debug logging" short:"v"`

	CacheDB  string `help:"Persist the fetch cache via this backend (sqlite, rqlite, postgres); unset disables persistence" enum:",sqlite,rqlite,postgres" default:""`
	CacheDSN string `help:"DSN/URL for --cache-db"`
}

func (g *globals) logger() *slog.Logger {
	opts := &slog.HandlerOptions{}
	if g.Verbose {
		opts.Level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// attachPersister wires g's --cache-db/--cache-dsn flags (if set) into
// cache via persistcache, so fetched package metadata and tarballs survive
// process restarts instead of starting cold every run.
func (g *globals) attachPersister(ctx context.Context, cache *fetchcache.Cache) (closer func() error, err error) {
	if g.CacheDB == "" {
		return func() error { return nil }, nil
	}
	store, closer, err := persistcache.New(ctx, g.CacheDB, g.CacheDSN)
	if err != nil {
		return nil, fmt.Errorf("opening persistent cache: %w", err)
	}
	cache.SetPersister(persistcache.NewResponseStore(store))
	return closer, nil
}

type cli struct {
	globals
	Resolve ResolveCmd `cmd:"" help:"Resolve a specifier through the full resolver chain"`
	Mount   MountCmd   `cmd:"" help:"Mount a tarball URL and list the files it extracts"`
	Inspect InspectCmd `cmd:"" help:"Resolve a package entry point from a package.json on disk"`
}

// ResolveCmd runs one specifier through the ordered alias/external/
// tarball/VFS/HTTP/CDN chain and prints the resulting canonical identity.
type ResolveCmd struct {
	Specifier  string   `arg:"" help:"The import specifier to resolve (e.g. react, ./util.js, https://...)"`
	Importer   string   `help:"Specifier the resolve is happening on behalf of, for error messages"`
	ResolveDir string   `help:"Directory a relative VFS specifier resolves against" default:"/"`
	Condition  []string `help:"Extra user conditions, in addition to the defaults"`
	Platform   string   `help:"browser, node, or neutral" default:"browser" enum:"browser,node,neutral"`
	CDNOrigin  string   `help:"Override the default CDN origin (unpkg.com), e.g. for a local mirror"`
	Manifest   string   `help:"Path to the build's root package.json, whose dependency ranges take precedence"`
	Load       bool     `help:"Also load the resolved content and report its size and loader"`
}

func (cmd *ResolveCmd) Run(g *globals) error {
	log := g.logger()
	ctx := context.Background()
	fs := vfs.New()
	cache := fetchcache.New(log, http.DefaultClient)
	closer, err := g.attachPersister(ctx, cache)
	if err != nil {
		return err
	}
	defer closer()

	var rootManifest *exports.Manifest
	if cmd.Manifest != "" {
		raw, err := os.ReadFile(cmd.Manifest)
		if err != nil {
			return fmt.Errorf("reading %q: %w", cmd.Manifest, err)
		}
		m, err := exports.ParseManifest(raw)
		if err != nil {
			return fmt.Errorf("parsing %q: %w", cmd.Manifest, err)
		}
		rootManifest = &m
	}

	r := resolver.New(log, fs, cache, resolver.Config{
		Platform:          condition.Platform(cmd.Platform),
		Format:            condition.FormatESM,
		Conditions:        cmd.Condition,
		CDNOrigin:         cmd.CDNOrigin,
		ResolveExtensions: defaultExtensions,
		RootManifest:      rootManifest,
	})

	rc := r.DefaultContext(condition.ImportKindImport)
	rc.Data = pluginctx.Data{
		Namespace:  vfsresolve.Namespace,
		ResolveDir: cmd.ResolveDir,
		Importer:   cmd.Importer,
	}
	if rootManifest != nil {
		rc.Data.Manifest = rootManifest
	}

	res, err := r.Resolve(ctx, cmd.Specifier, rc)
	if err != nil {
		return err
	}

	out := map[string]any{
		"namespace":   res.Namespace,
		"path":        res.Path,
		"external":    res.External,
		"sideEffects": res.SideEffects,
	}

	if cmd.Load {
		switch res.Namespace {
		case httpresolve.Namespace:
			loaded, _, err := r.LoadHTTP(ctx, res.Path)
			if err != nil {
				return fmt.Errorf("loading %q: %w", res.Path, err)
			}
			out["loader"] = loaded.Loader
			out["bytes"] = len(loaded.Contents)
			out["finalURL"] = loaded.FinalURL
		case vfsresolve.Namespace:
			contents, _, ok := r.LoadVFS(res.Path)
			if !ok {
				return fmt.Errorf("resolved vfs path %q has no content", res.Path)
			}
			out["bytes"] = len(contents)
		default:
			return fmt.Errorf("--load is not supported for namespace %q", res.Namespace)
		}
	}

	return printJSON(out)
}

// MountCmd forces a tarball mount and lists the files written under the
// mount's package root, adapted from npm/push's "walk the store and
// report what's there" shape to this core's mount-a-URL equivalent.
type MountCmd struct {
	URL string `arg:"" help:"Tarball URL, e.g. https://pkg.pr.new/owner/repo/pkg@sha/index.js"`
}

func (cmd *MountCmd) Run(g *globals) error {
	log := g.logger()
	ctx := context.Background()
	fs := vfs.New()
	cache := fetchcache.New(log, http.DefaultClient)
	closer, err := g.attachPersister(ctx, cache)
	if err != nil {
		return err
	}
	defer closer()
	engine := tarball.New(log, cache, fs)

	parsed, err := tarball.ParseURL(cmd.URL)
	if err != nil {
		return fmt.Errorf("parsing tarball URL: %w", err)
	}

	mount, err := engine.Mount(ctx, parsed)
	if err != nil {
		return err
	}

	fmt.Printf("mounted %s as %s at %s\n", mount.SourceURL, mount.Manifest.Name, mount.PackageRoot)
	for _, f := range mount.ExtractedFiles {
		fmt.Println(strings.TrimPrefix(f, mount.PackageRoot+"/"))
	}
	return nil
}

// InspectCmd loads a package.json from disk and prints resolvePackageEntry
// for a caller-chosen subpath and condition set, adapted from npm/pkglock's
// "parse a local file, print the normalized list" shape.
type InspectCmd struct {
	Manifest  string   `arg:"" help:"Path to a package.json file"`
	Subpath   string   `help:"Subpath to resolve, e.g. ./utils or ." default:"."`
	Condition []string `help:"Extra user conditions, in addition to the defaults"`
	Platform  string   `help:"browser, node, or neutral" default:"node" enum:"browser,node,neutral"`
	Require   bool     `help:"Resolve as a require() import rather than an ES import"`
}

func (cmd *InspectCmd) Run(g *globals) error {
	raw, err := os.ReadFile(cmd.Manifest)
	if err != nil {
		return fmt.Errorf("reading %q: %w", cmd.Manifest, err)
	}
	manifest, err := exports.ParseManifest(raw)
	if err != nil {
		return fmt.Errorf("parsing %q: %w", cmd.Manifest, err)
	}

	importKind := condition.ImportKindImport
	if cmd.Require {
		importKind = condition.ImportKindRequire
	}

	set := condition.Compute(condition.Input{
		Platform:       condition.Platform(cmd.Platform),
		Format:         condition.FormatESM,
		ImportKind:     importKind,
		UserConditions: cmd.Condition,
	})
	legacy := condition.LegacyFields(condition.Input{
		Platform:   condition.Platform(cmd.Platform),
		ImportKind: importKind,
	}, manifest.Browser.String != "")

	entry, usedModern, err := exports.ResolvePackageEntry(manifest, cmd.Subpath, set.Conditions, nil, legacy, true)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"name":       manifest.Name,
		"version":    manifest.Version,
		"subpath":    cmd.Subpath,
		"entry":      entry,
		"usedModern": usedModern,
		"conditions": set.Conditions,
	})
}

// defaultExtensions is the probe list for bare VFS lookups, narrowed to
// what this CLI's non-bundler use case cares about.
var defaultExtensions = []string{".js", ".mjs", ".ts", ".tsx", ".cjs", ".jsx", ".mts", ".cts"}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	c := cli{}
	ctx := kong.Parse(&c,
		kong.Name("modresolve"),
		kong.Description("Resolve and inspect npm/ESM module specifiers offline"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&c.globals)
	ctx.FatalIfErrorf(err)
}
