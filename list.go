package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "列出目标目录中的快照, 最新的在前",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(cmd)
		if err != nil {
			return err
		}
		defer s.close()

		b := NewBackup(s.cfg, s.log, newExecRunner())
		names, err := b.Snapshots(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// Snapshots 返回目标目录中的快照名, 按修改时间从新到旧
func (b *Backup) Snapshots(ctx context.Context) ([]string, error) {
	destDir, _, err := b.locate(b.cfg.Dest, b.cfg.IsRemoteDest())
	if err != nil {
		return nil, err
	}
	return b.dest.Snapshots(ctx, destDir, b.cfg.BackupPrefix)
}
