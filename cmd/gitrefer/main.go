package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/nken-eccs/gitrefer/internal"
	"github.com/nken-eccs/gitrefer/internal/cite"
	"github.com/nken-eccs/gitrefer/internal/extract"
	"github.com/nken-eccs/gitrefer/internal/models"
	"github.com/nken-eccs/gitrefer/internal/refstore"
	pkgconfig "github.com/nken-eccs/gitrefer/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()

	configPath := cmd.String("config")
	if _, err := os.Stat(configPath); err == nil {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// The remote coordinates usually come from the environment rather
	// than the config file.
	if cfg.GitHub.Repo == "" {
		cfg.GitHub.Repo = os.Getenv("GITREFER_REPO")
	}
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv("GITREFER_TOKEN")
	}
	if cfg.GitHub.Branch == "" {
		cfg.GitHub.Branch = os.Getenv("GITREFER_BRANCH")
	}
	return cfg, nil
}

func loadApp(cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.GitHub.Validate(); err != nil {
		return nil, fmt.Errorf("remote repository not configured (set GITREFER_REPO and GITREFER_TOKEN): %w", err)
	}
	return internal.NewApp(internal.WithConfig(cfg))
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.GitHub.Validate(); err != nil {
		return fmt.Errorf("remote repository not configured: %w", err)
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func listAction(ctx context.Context, cmd *cli.Command) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	for summary, err := range app.Store.List(ctx, refstore.Filter{Tag: cmd.String("tag")}) {
		if err != nil {
			return err
		}
		line := summary.ID + "\t" + summary.Title
		if summary.Year != "" {
			line += " (" + summary.Year + ")"
		}
		if len(summary.Tags) > 0 {
			line += "\t[" + strings.Join(summary.Tags, ", ") + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func showAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: show <id>")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ref, err := app.Store.Get(ctx, cmd.Args().First())
	if err != nil {
		return err
	}

	meta := ref.Metadata
	fmt.Printf("id:       %s\n", ref.ID)
	fmt.Printf("type:     %s\n", meta.Type)
	fmt.Printf("title:    %s\n", meta.Title)
	for _, author := range meta.Authors {
		if author.Given != "" {
			fmt.Printf("author:   %s, %s\n", author.Family, author.Given)
		} else {
			fmt.Printf("author:   %s\n", author.Family)
		}
	}
	if meta.Year != "" {
		fmt.Printf("year:     %s\n", meta.Year)
	}
	if meta.Venue != "" {
		fmt.Printf("venue:    %s\n", meta.Venue)
	}
	if meta.DOI != "" {
		fmt.Printf("doi:      %s\n", meta.DOI)
	}
	if meta.URL != "" {
		fmt.Printf("url:      %s\n", meta.URL)
	}
	if len(meta.Tags) > 0 {
		fmt.Printf("tags:     %s\n", strings.Join(meta.Tags, ", "))
	}
	if len(meta.Files) > 0 {
		fmt.Printf("files:    %s\n", strings.Join(meta.Files, ", "))
	}
	fmt.Printf("revision: %s\n", ref.Revision)
	return nil
}

func rawAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: raw <id>")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	raw, err := app.Store.Raw(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(raw)
	return err
}

func treeAction(ctx context.Context, cmd *cli.Command) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	paths, err := app.Store.Walk(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

// readDOIList parses one DOI per line, skipping blanks and # comments.
func readDOIList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var dois []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dois = append(dois, line)
	}
	return dois, scanner.Err()
}

func addDOIAction(ctx context.Context, cmd *cli.Command) error {
	dois := cmd.Args().Slice()
	if listFile := cmd.String("file"); listFile != "" {
		fromFile, err := readDOIList(listFile)
		if err != nil {
			return err
		}
		dois = append(dois, fromFile...)
	}
	if len(dois) == 0 {
		return fmt.Errorf("usage: add-doi <doi>... or add-doi --file <list>")
	}
	for _, doi := range dois {
		if !extract.ValidDOI(doi) {
			return fmt.Errorf("malformed DOI: %s", doi)
		}
	}

	app, err := loadApp(cmd)
	if err != nil {
		return err
	}

	result, err := extract.ResolveBatch(ctx, app.Extractor, dois)
	if err != nil {
		return err
	}
	fetcher, _ := app.Extractor.(extract.PDFFetcher)
	for _, item := range result.Resolved {
		var files []refstore.File
		if cmd.Bool("pdf") && fetcher != nil {
			// Most DOIs have no open full-text link; a miss is not
			// worth failing the add over.
			name, data, err := fetcher.FetchPDF(ctx, item.DOI)
			if err != nil {
				fmt.Fprintf(os.Stderr, "no PDF for %s: %v\n", item.DOI, err)
			} else {
				files = append(files, refstore.File{Name: name, Content: data})
			}
		}
		ref, err := app.Store.Create(ctx, item.Metadata, files)
		if err != nil {
			return fmt.Errorf("store %s: %w", item.DOI, err)
		}
		fmt.Printf("added %s\t%s\n", ref.ID, ref.Metadata.Title)
	}
	if len(result.Failures) > 0 {
		failed := make([]string, 0, len(result.Failures))
		for doi := range result.Failures {
			failed = append(failed, doi)
		}
		sort.Strings(failed)
		for _, doi := range failed {
			fmt.Fprintf(os.Stderr, "failed %s: %v\n", doi, result.Failures[doi])
		}
		return fmt.Errorf("%d of %d DOIs failed", len(failed), len(dois))
	}
	return nil
}

// expandPDFArgs replaces directory arguments with the PDFs they contain.
func expandPDFArgs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
				continue
			}
			paths = append(paths, filepath.Join(arg, entry.Name()))
		}
	}
	return paths, nil
}

func addPDFAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("usage: add-pdf <path>...")
	}
	paths, err := expandPDFArgs(cmd.Args().Slice())
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no PDFs found")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		name := filepath.Base(path)
		meta, err := app.Extractor.FromPDF(ctx, name, data)
		if err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
		ref, err := app.Store.Create(ctx, meta, []refstore.File{{Name: name, Content: data}})
		if err != nil {
			return fmt.Errorf("store %s: %w", name, err)
		}
		fmt.Printf("added %s\t%s\n", ref.ID, ref.Metadata.Title)
	}
	return nil
}

func addManualAction(ctx context.Context, cmd *cli.Command) error {
	meta := models.Metadata{
		Type:       cmd.String("type"),
		Title:      cmd.String("title"),
		Year:       cmd.String("year"),
		DOI:        cmd.String("doi"),
		URL:        cmd.String("url"),
		Tags:       cmd.StringSlice("tag"),
		Provenance: models.ProvenanceManual,
	}
	// Authors are "Family, Given" or just "Family".
	for _, author := range cmd.StringSlice("author") {
		family, given, _ := strings.Cut(author, ",")
		meta.Authors = append(meta.Authors, models.Author{
			Family: strings.TrimSpace(family),
			Given:  strings.TrimSpace(given),
		})
	}

	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ref, err := app.Store.Create(ctx, meta, nil)
	if err != nil {
		return err
	}
	fmt.Printf("added %s\t%s\n", ref.ID, ref.Metadata.Title)
	return nil
}

func updateAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: update <id>")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ref, err := app.Store.Get(ctx, cmd.Args().First())
	if err != nil {
		return err
	}

	fields := map[string]*string{
		"title":     &ref.Metadata.Title,
		"type":      &ref.Metadata.Type,
		"year":      &ref.Metadata.Year,
		"month":     &ref.Metadata.Month,
		"venue":     &ref.Metadata.Venue,
		"volume":    &ref.Metadata.Volume,
		"issue":     &ref.Metadata.Issue,
		"publisher": &ref.Metadata.Publisher,
		"doi":       &ref.Metadata.DOI,
		"url":       &ref.Metadata.URL,
		"note":      &ref.Metadata.Note,
	}
	for flag, target := range fields {
		if cmd.IsSet(flag) {
			*target = cmd.String(flag)
		}
	}

	updated, err := app.Store.Update(ctx, ref, cmd.String("rename"))
	if err != nil {
		return err
	}
	fmt.Printf("updated %s\n", updated.ID)
	return nil
}

func deleteAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: delete <id>")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	id := cmd.Args().First()
	if err := app.Store.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", id)
	return nil
}

func tagAddAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: tag add <id> <tag>")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ref, err := app.Store.AddTag(ctx, cmd.Args().First(), cmd.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Printf("tags of %s: %s\n", ref.ID, strings.Join(ref.Metadata.Tags, ", "))
	return nil
}

func tagRemoveAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: tag remove <id> <tag>")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ref, err := app.Store.RemoveTag(ctx, cmd.Args().First(), cmd.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Printf("tags of %s: %s\n", ref.ID, strings.Join(ref.Metadata.Tags, ", "))
	return nil
}

func fileAddAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: file add <id> <path>")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	path := cmd.Args().Get(1)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	ref, err := app.Store.AddFile(ctx, cmd.Args().First(), refstore.File{Name: name, Content: data})
	if err != nil {
		return err
	}
	fmt.Printf("files of %s: %s\n", ref.ID, strings.Join(ref.Metadata.Files, ", "))
	return nil
}

func fileRemoveAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 {
		return fmt.Errorf("usage: file remove <id> <name>")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ref, err := app.Store.DeleteFile(ctx, cmd.Args().First(), cmd.Args().Get(1))
	if err != nil {
		return err
	}
	if len(ref.Metadata.Files) == 0 {
		fmt.Printf("%s has no files\n", ref.ID)
		return nil
	}
	fmt.Printf("files of %s: %s\n", ref.ID, strings.Join(ref.Metadata.Files, ", "))
	return nil
}

func fileRenameAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 3 {
		return fmt.Errorf("usage: file rename <id> <old> <new>")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ref, err := app.Store.RenameFile(ctx, cmd.Args().First(), cmd.Args().Get(1), cmd.Args().Get(2))
	if err != nil {
		return err
	}
	fmt.Printf("files of %s: %s\n", ref.ID, strings.Join(ref.Metadata.Files, ", "))
	return nil
}

func exportAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: export <bibtex|apa|ris>")
	}
	format, err := cite.ParseFormat(cmd.Args().First())
	if err != nil {
		return err
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	refs, err := app.Store.References(ctx, refstore.Filter{Tag: cmd.String("tag")})
	if err != nil {
		return err
	}
	result := cite.ExportBatch(format, refs)
	fmt.Println(result.Text())
	for id, err := range result.Failures {
		fmt.Fprintf(os.Stderr, "skipped %s: %v\n", id, err)
	}
	return nil
}

func printReport(report refstore.Report) {
	fmt.Printf("references: %d\n", report.References)
	for _, orphan := range report.Orphans {
		fmt.Printf("orphan %s: %s\n", orphan.ID, strings.Join(orphan.Files, ", "))
	}
	for _, group := range report.Duplicates {
		fmt.Printf("duplicates: %s\n", strings.Join(group, ", "))
	}
	for id, files := range report.MissingFiles {
		fmt.Printf("missing files in %s: %s\n", id, strings.Join(files, ", "))
	}
	for id, files := range report.UnlistedFiles {
		fmt.Printf("unlisted files in %s: %s\n", id, strings.Join(files, ", "))
	}
}

func reconcileAction(ctx context.Context, cmd *cli.Command) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	report, err := app.Store.Reconcile(ctx)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func resetAction(ctx context.Context, cmd *cli.Command) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	report, err := app.Store.Reconcile(ctx)
	if err != nil {
		return err
	}
	printReport(report)
	if len(report.Orphans) == 0 {
		fmt.Println("nothing to clean up")
		return nil
	}
	if !cmd.Bool("force") {
		return fmt.Errorf("refusing to delete orphaned files without --force")
	}
	if err := app.Store.Cleanup(ctx, report); err != nil {
		return err
	}
	fmt.Printf("removed %d orphan(s)\n", len(report.Orphans))
	return nil
}

func main() {
	tagFlag := &cli.StringFlag{
		Name:  "tag",
		Usage: "Filter references by tag",
	}

	cmd := &cli.Command{
		Name:  "gitrefer",
		Usage: "Bibliography manager storing references and attachments in a GitHub repository",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP API server",
				Action: serveAction,
			},
			{
				Name:   "mcp",
				Usage:  "Start the MCP server on stdio",
				Action: mcpAction,
			},
			{
				Name:   "list",
				Usage:  "List references",
				Flags:  []cli.Flag{tagFlag},
				Action: listAction,
			},
			{
				Name:      "show",
				Usage:     "Print a reference in a readable form",
				ArgsUsage: "<id>",
				Action:    showAction,
			},
			{
				Name:      "raw",
				Usage:     "Print the stored metadata record verbatim",
				ArgsUsage: "<id>",
				Action:    rawAction,
			},
			{
				Name:   "tree",
				Usage:  "Print every stored path in the remote tree",
				Action: treeAction,
			},
			{
				Name:      "add-doi",
				Usage:     "Resolve DOIs via Crossref/DataCite and store the references",
				ArgsUsage: "<doi>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "File with one DOI per line",
					},
					&cli.BoolFlag{
						Name:  "pdf",
						Usage: "Download the publisher PDF when the registry links one",
						Value: true,
					},
				},
				Action: addDOIAction,
			},
			{
				Name:      "add-pdf",
				Usage:     "Extract a DOI from PDFs and store them as references with the PDF attached",
				ArgsUsage: "<path>...",
				Action:    addPDFAction,
			},
			{
				Name:  "add-manual",
				Usage: "Store a reference from manually supplied fields",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "Title", Required: true},
					&cli.StringSliceFlag{Name: "author", Usage: "Author as 'Family, Given' (repeatable)"},
					&cli.StringFlag{Name: "year", Usage: "Publication year"},
					&cli.StringFlag{Name: "type", Usage: "Entry type", Value: models.TypeMisc},
					&cli.StringFlag{Name: "doi", Usage: "DOI"},
					&cli.StringFlag{Name: "url", Usage: "URL"},
					&cli.StringSliceFlag{Name: "tag", Usage: "Tag (repeatable)"},
				},
				Action: addManualAction,
			},
			{
				Name:      "update",
				Usage:     "Edit metadata fields of a reference, optionally renaming it",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "rename", Usage: "New ID (moves the attachments)"},
					&cli.StringFlag{Name: "title", Usage: "Title"},
					&cli.StringFlag{Name: "type", Usage: "Entry type"},
					&cli.StringFlag{Name: "year", Usage: "Publication year"},
					&cli.StringFlag{Name: "month", Usage: "Publication month"},
					&cli.StringFlag{Name: "venue", Usage: "Journal or conference"},
					&cli.StringFlag{Name: "volume", Usage: "Volume"},
					&cli.StringFlag{Name: "issue", Usage: "Issue"},
					&cli.StringFlag{Name: "publisher", Usage: "Publisher"},
					&cli.StringFlag{Name: "doi", Usage: "DOI"},
					&cli.StringFlag{Name: "url", Usage: "URL"},
					&cli.StringFlag{Name: "note", Usage: "Free-form note"},
				},
				Action: updateAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete a reference and its attachments",
				ArgsUsage: "<id>",
				Action:    deleteAction,
			},
			{
				Name:  "tag",
				Usage: "Manage reference tags",
				Commands: []*cli.Command{
					{Name: "add", ArgsUsage: "<id> <tag>", Action: tagAddAction},
					{Name: "remove", ArgsUsage: "<id> <tag>", Action: tagRemoveAction},
				},
			},
			{
				Name:  "file",
				Usage: "Manage reference attachments",
				Commands: []*cli.Command{
					{Name: "add", ArgsUsage: "<id> <path>", Action: fileAddAction},
					{Name: "remove", ArgsUsage: "<id> <name>", Action: fileRemoveAction},
					{Name: "rename", ArgsUsage: "<id> <old> <new>", Action: fileRenameAction},
				},
			},
			{
				Name:      "export",
				Usage:     "Export references as formatted citations",
				ArgsUsage: "<bibtex|apa|ris>",
				Flags:     []cli.Flag{tagFlag},
				Action:    exportAction,
			},
			{
				Name:   "reconcile",
				Usage:  "Scan the remote tree for orphans, duplicates and file drift",
				Action: reconcileAction,
			},
			{
				Name:  "reset",
				Usage: "Remove orphaned attachment directories found by reconcile",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Actually delete (otherwise report only)"},
				},
				Action: resetAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
