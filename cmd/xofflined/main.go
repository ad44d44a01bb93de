// xofflined 是离线缓存代理守护进程及其运维命令行。
//
// 用法:
//
//	xofflined [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config   配置文件路径（.yaml/.yml/.json），也可用 XOFFLINE_CONFIG 指定；
//	               未指定时使用内置默认配置
//
// 命令:
//
//	serve          启动缓存代理
//	expire         对启用过期管理的分区执行一次清理
//	inspect        查看各分区的条目数和时间戳范围
//	purge [名称]   删除分区及其时间戳，不带参数时删除全部分区
//	version        显示版本信息
//
// expire、inspect 和 purge 直接操作配置的存储和索引，
// 只有 redis 或 sqlite 后端在进程之间共享数据。
//
// 退出码:
//
//	0: 成功
//	1: 执行失败
//	2: 参数或配置错误
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/xoffline/internal/appconf"
)

// 版本信息，可通过 -ldflags "-X main.Version=..." 注入。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// createApp 创建 CLI 应用。
func createApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "xofflined",
		Usage:     "离线缓存代理",
		Version:   versionString(),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
				Sources: cli.EnvVars("XOFFLINE_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			createServeCommand(),
			createExpireCommand(),
			createInspectCommand(),
			createPurgeCommand(),
			createVersionCommand(),
		},
		// 退出码由 run 统一映射，不让 urfave/cli 直接退出进程
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	app := createApp(stdout, stderr)
	if err := app.Run(context.Background(), args); err != nil {
		fmt.Fprintf(stderr, "错误: %v\n", err)
		if isUsageError(err) {
			return 2
		}
		return 1
	}
	return 0
}

// isUsageError 报告 err 是否属于参数或配置错误。
func isUsageError(err error) bool {
	return errors.Is(err, errUsage) ||
		errors.Is(err, appconf.ErrEmptyPath) ||
		errors.Is(err, appconf.ErrUnsupportedFormat) ||
		errors.Is(err, appconf.ErrLoadFailed) ||
		errors.Is(err, appconf.ErrParseFailed) ||
		errors.Is(err, appconf.ErrInvalidConfig)
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}
