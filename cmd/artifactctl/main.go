// artifactctl manages model artifacts in the ethscore registry.
//
// Usage:
//
//	artifactctl import -file trained_xgb_model.json -name trained_xgb_model -version v1
//	artifactctl list [-name trained_xgb_model]
//	artifactctl publish -name trained_xgb_model [-version v1] [-key ethscore:artifact:trained_xgb_model]
//
// Registry and Redis connections are configured through the same
// ETHSCORE_* environment variables as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/opensource-finance/ethscore/internal/artifact"
	"github.com/opensource-finance/ethscore/internal/config"
	"github.com/opensource-finance/ethscore/internal/domain"
	"github.com/opensource-finance/ethscore/internal/logging"
	"github.com/opensource-finance/ethscore/internal/model"
	"github.com/opensource-finance/ethscore/internal/repository"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	// Keep stdout for command output.
	slog.SetDefault(logging.NewWithWriter(os.Stderr, cfg.Logging.Level, "text"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "import":
		err = runImport(ctx, cfg, args)
	case "list":
		err = runList(ctx, cfg, args)
	case "publish":
		err = runPublish(ctx, cfg, args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: artifactctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	fmt.Fprintln(os.Stderr, "  import   register an artifact file as a new registry version")
	fmt.Fprintln(os.Stderr, "  list     list registry versions, newest first")
	fmt.Fprintln(os.Stderr, "  publish  copy a registry version to the redis artifact key")
}

func runImport(ctx context.Context, cfg *domain.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", cfg.Model.Path, "artifact file to import")
	name := fs.String("name", cfg.Model.Name, "artifact name")
	version := fs.String("version", "", "artifact version (required)")
	format := fs.String("format", cfg.Model.Format, "artifact format (detected when empty)")
	fs.Parse(args)

	if *version == "" {
		return fmt.Errorf("-version is required")
	}

	a, err := artifact.NewFileStore(domain.ModelConfig{
		Path:    *file,
		Name:    *name,
		Version: *version,
		Format:  *format,
	}).Fetch(ctx)
	if err != nil {
		return err
	}

	// Refuse to register something the server could not load.
	m, err := model.Load(a)
	if err != nil {
		return fmt.Errorf("artifact %s is not loadable: %w", *file, err)
	}
	a.Format = m.Info().Format
	// Registration time orders versions, not the file mtime.
	a.CreatedAt = time.Now().UTC()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.SaveArtifact(ctx, a); err != nil {
		return err
	}

	fmt.Printf("imported %s@%s (%s) sha256=%s\n", a.Name, a.Version, a.Format, a.SHA256)
	return nil
}

func runList(ctx context.Context, cfg *domain.Config, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	name := fs.String("name", "", "only list versions of this artifact")
	fs.Parse(args)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return err
	}
	defer repo.Close()

	artifacts, err := repo.ListArtifacts(ctx, *name)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tFORMAT\tCREATED\tSHA256")
	for _, a := range artifacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			a.Name, a.Version, a.Format, a.CreatedAt.UTC().Format(time.RFC3339), shortDigest(a.SHA256))
	}
	return tw.Flush()
}

func runPublish(ctx context.Context, cfg *domain.Config, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	name := fs.String("name", cfg.Model.Name, "artifact name")
	version := fs.String("version", "", "registry version (latest when empty)")
	key := fs.String("key", cfg.Model.RedisKey, "redis key to publish to")
	fs.Parse(args)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return err
	}
	defer repo.Close()

	a, err := artifact.NewSQLStore(repo, *name, *version).Fetch(ctx)
	if err != nil {
		return err
	}

	rs, err := artifact.NewRedisStore(cfg.Redis, *key)
	if err != nil {
		return err
	}
	defer rs.Close()

	if err := rs.Publish(ctx, a); err != nil {
		return err
	}

	fmt.Printf("published %s@%s to redis key %s\n", a.Name, a.Version, *key)
	return nil
}

func shortDigest(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
