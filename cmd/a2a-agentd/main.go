package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

// main 是 a2a-agentd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "a2a-agentd 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML 配置文件路径，为空时使用默认配置",
		EnvVars: []string{"A2A_CONFIG"},
	}
	envFileFlag := &cli.StringFlag{
		Name:  "env-file",
		Usage: "启动前加载的 .env 文件",
		Value: ".env",
	}

	return &cli.App{
		Name:  "a2a-agentd",
		Usage: "A2A 任务生命周期与 JSON-RPC 调度服务",
		Flags: []cli.Flag{envFileFlag},
		Before: func(c *cli.Context) error {
			return loadEnvFile(c.String("env-file"))
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "启动 HTTP 服务与任务工作协程",
				Flags:  []cli.Flag{configFlag},
				Action: func(c *cli.Context) error { return serve(c.Context, c.String("config")) },
			},
			{
				Name:  "token",
				Usage: "为凭证签发 Bearer JWT",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "name", Usage: "凭证名，写入 sub 声明", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "有效期，0 表示不过期", Value: 24 * time.Hour},
				},
				Action: func(c *cli.Context) error {
					return issueToken(c.App.Writer, c.String("config"), c.String("name"), c.Duration("ttl"))
				},
			},
			{
				Name:      "hash-key",
				Usage:     "生成可写入 key_id 与 key_hash 字段的值",
				ArgsUsage: "<key_id>.<secret>",
				Action: func(c *cli.Context) error {
					return hashKey(c.App.Writer, c.Args().First())
				},
			},
		},
	}
}

// loadEnvFile 加载 .env 文件，文件不存在时忽略。
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("加载 %s 失败: %w", path, err)
	}
	return nil
}
