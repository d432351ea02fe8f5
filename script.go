package main

import (
	"context"
	"fmt"
	"strings"
)

// runScript 在本地通过 sh -c 执行前置或后置脚本
func (b *Backup) runScript(ctx context.Context, scriptType, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}

	if b.DryRun {
		b.log.Info("[DRY RUN] 跳过脚本", "type", scriptType, "script", script)
		return nil
	}

	b.log.Info("执行脚本", "type", scriptType)
	out, err := b.runner.Run(ctx, Command{Name: "sh", Args: []string{"-c", script}})
	if err != nil {
		return fmt.Errorf("执行 %s 脚本失败: %w", scriptType, err)
	}

	if s := strings.TrimSpace(out.Stdout); s != "" {
		b.log.Info("脚本输出", "type", scriptType, "output", s)
	}
	b.log.Info("脚本执行完成", "type", scriptType)
	return nil
}
