package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/omeyang/xoffline/internal/app"
	"github.com/omeyang/xoffline/internal/appconf"
)

var errUsage = errors.New("xofflined: usage error")

// loadConfig 读取 --config 指定的文件，未指定时返回默认配置。
func loadConfig(cmd *cli.Command) (appconf.Config, error) {
	path := cmd.String("config")
	if path == "" {
		cfg := appconf.Default()
		return cfg, cfg.Validate()
	}
	return appconf.Load(path)
}

// withApp 装配 App 并执行 fn，结束后关闭 App 和日志。
func withApp(ctx context.Context, cmd *cli.Command, mutate func(*appconf.Config), fn func(context.Context, *app.App, *slog.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(&cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger, closer, err := app.NewLogger(cfg.Log, cmd.Root().ErrWriter)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	defer closer.Close()

	a, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, logger)
}

func createServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "启动缓存代理",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "覆盖 server.addr"},
			&cli.StringFlag{Name: "upstream", Usage: "覆盖 server.upstream"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mutate := func(cfg *appconf.Config) {
				if v := cmd.String("addr"); v != "" {
					cfg.Server.Addr = v
				}
				if v := cmd.String("upstream"); v != "" {
					cfg.Server.Upstream = v
				}
			}
			gin.SetMode(gin.ReleaseMode)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, cmd, mutate, func(ctx context.Context, a *app.App, logger *slog.Logger) error {
				logger.Info("starting", slog.String("version", versionString()))
				return a.Run(ctx)
			})
		},
	}
}

func createExpireCommand() *cli.Command {
	return &cli.Command{
		Name:  "expire",
		Usage: "对启用过期管理的分区执行一次清理",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, nil, func(ctx context.Context, a *app.App, _ *slog.Logger) error {
				results, err := a.Expire(ctx)
				w := cmd.Root().Writer
				for _, r := range results {
					fmt.Fprintf(w, "%s: %d expired\n", r.Cache, len(r.URLs))
					for _, u := range r.URLs {
						fmt.Fprintf(w, "  %s\n", u)
					}
				}
				return err
			})
		},
	}
}

func createInspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "查看各分区的条目数和时间戳范围",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "以 JSON 输出"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, nil, func(ctx context.Context, a *app.App, _ *slog.Logger) error {
				stats, err := a.Inspect(ctx)
				if err != nil {
					return err
				}
				if cmd.Bool("json") {
					enc := json.NewEncoder(cmd.Root().Writer)
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				}
				return printStats(cmd.Root().Writer, stats)
			})
		},
	}
}

func printStats(w io.Writer, stats []app.CacheStat) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CACHE\tENTRIES\tINDEXED\tNEWEST\tOLDEST")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", s.Name, s.Entries, s.Indexed, formatTime(s.Newest), formatTime(s.Oldest))
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func createPurgeCommand() *cli.Command {
	return &cli.Command{
		Name:      "purge",
		Usage:     "删除分区及其时间戳",
		ArgsUsage: "[分区名...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "删除全部分区（不带分区名时必须指定）"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			names := cmd.Args().Slice()
			if len(names) == 0 && !cmd.Bool("all") {
				return fmt.Errorf("%w: purge needs cache names or --all", errUsage)
			}
			return withApp(ctx, cmd, nil, func(ctx context.Context, a *app.App, _ *slog.Logger) error {
				purged, err := a.Purge(ctx, names...)
				for _, name := range purged {
					fmt.Fprintf(cmd.Root().Writer, "purged %s\n", name)
				}
				return err
			})
		},
	}
}

func createVersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "显示版本信息",
		Action: func(_ context.Context, cmd *cli.Command) error {
			_, err := fmt.Fprintf(cmd.Root().Writer, "xofflined %s\n", versionString())
			return err
		},
	}
}
