package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// rsyncBaseArgs 每次同步都使用的 rsync 参数
var rsyncBaseArgs = []string{
	"-a",       // 归档模式: 递归, 保留权限和时间戳
	"--delete", // 删除目标中源已不存在的文件
}

// ErrSourceMissing 源路径不存在
var ErrSourceMissing = errors.New("源路径不存在")

// BackupMode 区分首次完整备份和基于上一次快照的增量备份
type BackupMode int

const (
	InitialMode BackupMode = iota
	IncrementalMode
)

func (m BackupMode) String() string {
	switch m {
	case InitialMode:
		return "initial"
	case IncrementalMode:
		return "incremental"
	default:
		return fmt.Sprintf("unknown_mode(%d)", int(m))
	}
}

// BackupResult 描述一次备份
type BackupResult struct {
	Mode BackupMode
	// Snapshot 本次创建的快照目录名
	Snapshot string
	// Previous 上一次快照目录名, 首次备份为空
	Previous string
	Command  Command
}

// Backup 编排一次快照备份: 检查路径, 查找上一次快照, 调用 rsync
type Backup struct {
	DryRun bool
	Quiet  bool

	cfg    *Config
	log    *slog.Logger
	runner Runner
	now    func() time.Time

	src  endpoint
	dest endpoint
}

func NewBackup(cfg *Config, log *slog.Logger, runner Runner) *Backup {
	b := &Backup{
		cfg:    cfg,
		log:    log,
		runner: runner,
		now:    time.Now,
		src:    Local{},
		dest:   Local{},
	}
	switch {
	case cfg.IsRemoteSrc():
		b.src = newRemote(cfg.RemoteUser, cfg.RemoteHost, runner, log)
	case cfg.IsRemoteDest():
		b.dest = newRemote(cfg.RemoteUser, cfg.RemoteHost, runner, log)
	}
	return b
}

// locate 返回端点上使用的目录路径和传给 rsync 的路径
func (b *Backup) locate(path string, remote bool) (dir, arg string, err error) {
	if remote {
		arg, err = resolvePath(path, true, b.cfg.RemoteUser, b.cfg.RemoteHost)
		return path, arg, err
	}
	dir, err = resolvePath(path, false, "", "")
	return dir, dir, err
}

// Run 执行一次备份. 任一步骤失败整个备份即中止, 不重试.
func (b *Backup) Run(ctx context.Context) (*BackupResult, error) {
	srcDir, srcArg, err := b.locate(b.cfg.Src, b.cfg.IsRemoteSrc())
	if err != nil {
		return nil, err
	}
	destDir, destArg, err := b.locate(b.cfg.Dest, b.cfg.IsRemoteDest())
	if err != nil {
		return nil, err
	}

	b.log.Info("开始备份", "src", srcArg, "dest", destArg)

	if err := b.runScript(ctx, "before", b.cfg.BeforeScript); err != nil {
		return nil, err
	}

	if !b.src.Exists(ctx, srcDir) {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, srcArg)
	}

	if err := b.ensureDest(ctx, destDir, destArg); err != nil {
		return nil, err
	}

	snapshots, err := b.dest.Snapshots(ctx, destDir, b.cfg.BackupPrefix)
	if err != nil {
		return nil, fmt.Errorf("查找上一次快照失败: %w", err)
	}

	res := &BackupResult{
		Mode:     InitialMode,
		Snapshot: snapshotName(b.cfg.BackupPrefix, b.now()),
	}
	if len(snapshots) > 0 {
		res.Mode = IncrementalMode
		res.Previous = snapshots[0]
	}
	if slices.Contains(snapshots, res.Snapshot) {
		return nil, fmt.Errorf("快照目录已存在: %s", joinSnapshot(destArg, res.Snapshot))
	}

	res.Command = b.rsyncCommand(srcArg, destArg, res.Snapshot, res.Previous)
	b.log.Info("备份模式", "mode", res.Mode, "snapshot", res.Snapshot, "previous", res.Previous)

	if b.DryRun {
		b.log.Info("[DRY RUN] 跳过 rsync", "command", res.Command.String())
		return res, nil
	}

	if err := b.sync(ctx, res.Command); err != nil {
		return nil, err
	}

	if err := b.runScript(ctx, "after", b.cfg.AfterScript); err != nil {
		return nil, err
	}

	b.log.Info("备份完成", "snapshot", joinSnapshot(destArg, res.Snapshot))
	return res, nil
}

// ensureDest 目标目录不存在时创建, 创建失败即中止
func (b *Backup) ensureDest(ctx context.Context, dir, arg string) error {
	if b.dest.Exists(ctx, dir) {
		return nil
	}
	if b.DryRun {
		b.log.Info("[DRY RUN] 目标目录不存在, 跳过创建", "dest", arg)
		return nil
	}

	b.log.Info("创建目标目录", "dest", arg)
	if err := b.dest.MkdirAll(ctx, dir); err != nil {
		return fmt.Errorf("创建目标目录失败 (%s): %w", arg, err)
	}
	return nil
}

// rsyncCommand 组装 rsync 命令. 有上一次快照时通过 --link-dest 硬链接未变化的文件.
func (b *Backup) rsyncCommand(srcArg, destArg, snapshot, previous string) Command {
	args := slices.Clone(rsyncBaseArgs)
	args = append(args, b.cfg.RsyncOptions...)
	if b.cfg.ExcludeFrom != "" {
		args = append(args, "--exclude-from="+b.cfg.ExcludeFrom)
	}
	if previous != "" {
		// 相对于新快照目录
		args = append(args, "--link-dest=../"+previous+"/")
	}
	args = append(args,
		withTrailingSlash(srcArg),
		withTrailingSlash(joinSnapshot(destArg, snapshot)),
	)
	return Command{Name: "rsync", Args: args}
}

// sync 执行 rsync. 非零退出或标准错误中有任何输出都视为失败.
func (b *Backup) sync(ctx context.Context, cmd Command) error {
	b.log.Debug("执行 rsync", "command", cmd.String())

	bar := newSyncProgressBar("同步中", b.Quiet)
	cmd.Stdout = lineCounter{bar: bar}
	out, err := b.runner.Run(ctx, cmd)
	_ = bar.Finish()

	if err != nil {
		return fmt.Errorf("rsync 执行失败: %w", err)
	}
	if s := strings.TrimSpace(out.Stderr); s != "" {
		return fmt.Errorf("rsync 输出错误信息: %s", s)
	}
	return nil
}
