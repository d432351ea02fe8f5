package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "将快照还原到指定目录",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot, _ := cmd.Flags().GetString("snapshot")
		target, _ := cmd.Flags().GetString("target")
		mirror, _ := cmd.Flags().GetBool("delete")
		quiet, _ := cmd.Flags().GetBool("quiet")
		if target == "" {
			return fmt.Errorf("还原目标路径不能为空")
		}

		s, err := setup(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		b := NewBackup(s.cfg, s.log, newExecRunner())
		b.Quiet = quiet
		name, err := b.Restore(cmd.Context(), snapshot, target, mirror)
		if err != nil {
			s.log.Error("还原失败", "error", err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "还原完成: %s → %s\n", name, target)
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringP("snapshot", "n", "", "要还原的快照目录名, 默认为最新快照")
	restoreCmd.Flags().StringP("target", "t", "", "还原到的本地目录")
	restoreCmd.Flags().BoolP("delete", "D", false, "删除目标中快照里不存在的文件")

	rootCmd.AddCommand(restoreCmd)
}

// Restore 用 rsync 将快照复制到本地目录 target, 返回实际还原的快照名
func (b *Backup) Restore(ctx context.Context, snapshot, target string, mirror bool) (string, error) {
	destDir, destArg, err := b.locate(b.cfg.Dest, b.cfg.IsRemoteDest())
	if err != nil {
		return "", err
	}
	targetDir, err := resolvePath(target, false, "", "")
	if err != nil {
		return "", err
	}

	snapshots, err := b.dest.Snapshots(ctx, destDir, b.cfg.BackupPrefix)
	if err != nil {
		return "", fmt.Errorf("读取快照列表失败: %w", err)
	}
	if len(snapshots) == 0 {
		return "", fmt.Errorf("%s 中没有快照", destArg)
	}
	switch {
	case snapshot == "":
		snapshot = snapshots[0]
	case !slices.Contains(snapshots, snapshot):
		return "", fmt.Errorf("快照不存在: %s", joinSnapshot(destArg, snapshot))
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", fmt.Errorf("创建还原目录失败 (%s): %w", targetDir, err)
	}

	args := []string{"-a"}
	if mirror {
		args = append(args, "--delete")
	}
	args = append(args, b.cfg.RsyncOptions...)
	args = append(args,
		withTrailingSlash(joinSnapshot(destArg, snapshot)),
		withTrailingSlash(targetDir),
	)

	b.log.Info("开始还原", "snapshot", snapshot, "target", targetDir)
	if err := b.sync(ctx, Command{Name: "rsync", Args: args}); err != nil {
		return "", err
	}
	return snapshot, nil
}
