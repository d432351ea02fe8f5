package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alessio/shellescape"
)

const (
	// sshConnectTimeout 远程连接超时 (秒), 固定值
	sshConnectTimeout = 10

	existsMarker  = "__LINKTRACK_EXISTS__"
	missingMarker = "__LINKTRACK_MISSING__"
)

// transportPolicy 决定远程命令失败时如何处理
type transportPolicy int

const (
	// swallowTransportErrors 连接或命令失败视为 "不存在" 或空结果
	swallowTransportErrors transportPolicy = iota
	// propagateTransportErrors 失败直接返回给调用方
	propagateTransportErrors
)

// endpoint 是源或目标所在的位置, 本地或远程
type endpoint interface {
	Exists(ctx context.Context, path string) bool
	MkdirAll(ctx context.Context, path string) error
	// Snapshots 返回 dir 下以 prefix 开头的子目录名, 按修改时间从新到旧
	Snapshots(ctx context.Context, dir, prefix string) ([]string, error)
}

// Remote 通过 ssh 在远程主机上执行检查和创建目录
type Remote struct {
	User string
	Host string

	runner Runner
	log    *slog.Logger
}

func newRemote(user, host string, runner Runner, log *slog.Logger) *Remote {
	return &Remote{User: user, Host: host, runner: runner, log: log}
}

func (r *Remote) String() string {
	return r.User + "@" + r.Host
}

// shell 在远程主机上执行 script, 不允许交互式提示
func (r *Remote) shell(ctx context.Context, script string, policy transportPolicy) (*Output, error) {
	out, err := r.runner.Run(ctx, Command{
		Name: "ssh",
		Args: []string{
			"-o", "BatchMode=yes",
			"-o", fmt.Sprintf("ConnectTimeout=%d", sshConnectTimeout),
			r.String(),
			script,
		},
	})
	if err == nil {
		return out, nil
	}
	if policy == propagateTransportErrors {
		return nil, fmt.Errorf("远程命令失败 (%s): %w", r, err)
	}
	r.log.Debug("远程命令失败, 按空结果处理", "host", r.String(), "script", script, "error", err)
	return &Output{}, nil
}

// Exists 报告远程路径是否存在. 连接或命令失败一律视为不存在, 不返回错误.
// 通过输出中的标记判断结果, 远程命令的退出码始终为 0.
func (r *Remote) Exists(ctx context.Context, path string) bool {
	script := fmt.Sprintf("test -e %s && echo %s || echo %s",
		shellescape.Quote(path), existsMarker, missingMarker)
	out, _ := r.shell(ctx, script, swallowTransportErrors)
	for _, line := range strings.Split(out.Stdout, "\n") {
		if strings.TrimSpace(line) == existsMarker {
			return true
		}
	}
	return false
}

// MkdirAll 在远程主机上创建目录. 与 Exists 不同, 失败会返回错误.
func (r *Remote) MkdirAll(ctx context.Context, path string) error {
	_, err := r.shell(ctx, "mkdir -p "+shellescape.Quote(path), propagateTransportErrors)
	return err
}

// Snapshots 列出远程快照目录及其修改时间, 排序在本地完成. 失败时返回空列表.
func (r *Remote) Snapshots(ctx context.Context, dir, prefix string) ([]string, error) {
	script := fmt.Sprintf("cd %s && stat -c '%%Y %%n' -- %s*/", shellescape.Quote(dir), shellescape.Quote(prefix))
	out, _ := r.shell(ctx, script, swallowTransportErrors)
	return parseSnapshotListing(out.Stdout, prefix), nil
}
