package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/roster/internal"
	pkgconfig "github.com/starford/roster/pkg/config"
)

var version = "dev"

func options(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.RunMCP(ctx, opts...); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}
	return nil
}

func cacheInfo(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	info, err := internal.CacheInfo(ctx, opts...)
	if err != nil {
		return err
	}

	fmt.Printf("files: %d\n", info.Count)
	fmt.Printf("size:  %s\n", humanize.Bytes(uint64(info.TotalBytes)))
	if cmd.Bool("verbose") {
		for _, e := range info.Entries {
			fmt.Println(e)
		}
	}
	return nil
}

func cacheClear(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.ClearCache(ctx, opts...); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Println("cache cleared")
	return nil
}

func cacheSync(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	count, size, err := internal.SyncCache(ctx, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d files (%s)\n", count, humanize.Bytes(uint64(size)))
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "roster",
		Usage:   "Character record manager with a local image cache",
		Version: version,
		Action:  run,
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
				Name:   "mcp",
				Usage:  "Serve the record tools over MCP stdio",
				Action: runMCP,
			},
			{
				Name:  "cache",
				Usage: "Inspect and maintain the image cache",
				Commands: []*cli.Command{
					{
						Name:   "info",
						Usage:  "Show cached file count and total size",
						Action: cacheInfo,
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "verbose",
								Usage: "List every cached file",
							},
						},
					},
					{
						Name:   "clear",
						Usage:  "Delete every cached image and reset record images",
						Action: cacheClear,
					},
					{
						Name:   "sync",
						Usage:  "Rebuild the cache index from disk",
						Action: cacheSync,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
