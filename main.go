package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "linktrack",
	Short: "基于 rsync 硬链接的增量快照备份工具",
	Long: `linktrack 调用 rsync 将源目录同步到目标目录下一个带时间戳的快照目录中。
若目标目录中已存在快照, 未变化的文件通过 --link-dest 硬链接到上一次快照, 只传输变化的内容。
源或目标之一可以位于通过 ssh 访问的远程主机上。`,
	Version:       buildVersion(),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		quiet, _ := cmd.Flags().GetBool("quiet")

		s, err := setup(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		b := NewBackup(s.cfg, s.log, newExecRunner())
		b.DryRun = dryRun
		b.Quiet = quiet

		res, err := b.Run(cmd.Context())
		if err != nil {
			s.log.Error("备份失败", "error", err)
			return err
		}
		if !dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "备份完成: %s (%s)\n", res.Snapshot, res.Mode)
		}
		return nil
	},
}

func init() {
	addConfigFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "输出调试日志")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "不显示进度")
	rootCmd.Flags().Bool("dry-run", false, "只打印将要执行的 rsync 命令, 不做任何修改")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// setup 加载配置并创建日志记录器, 所有子命令共用
func setup(cmd *cobra.Command) (*session, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	console, _ := newLogger(logOptions{Verbose: verbose})
	// 日志文件路径要等配置加载后才知道, 这之前的记录先保存下来
	pending := newRecordBuffer()
	early := slog.New(newMultiHandler(console.Handler(), pending))

	opts, err := loadOptions(cmd, early)
	if err == nil {
		var cfg *Config
		if cfg, err = opts.Validate(early); err == nil {
			log, closeLog := newLogger(logOptions{
				File:    cfg.LogFile,
				Verbose: verbose,
				Pending: pending.Records(),
			})
			return &session{cfg: cfg, log: log, closeLog: closeLog}, nil
		}
	}

	if errors.Is(err, ErrUsage) {
		_ = cmd.Usage()
	}
	return nil, err
}

type session struct {
	cfg      *Config
	log      *slog.Logger
	closeLog func() error
}

func (s *session) close() {
	if err := s.closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "关闭日志文件失败: %v\n", err)
	}
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}
