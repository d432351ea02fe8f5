package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolvePath 返回 rsync 可用的路径形式.
// 远程路径写成 user@host:path 且不做绝对化; 本地相对路径基于当前工作目录解析.
func resolvePath(path string, remote bool, user, host string) (string, error) {
	if remote {
		return fmt.Sprintf("%s@%s:%s", user, host, path), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("获取工作目录失败: %w", err)
	}
	return filepath.Join(wd, path), nil
}

// withTrailingSlash 末尾的 / 让 rsync 复制目录内容而不是目录本身
func withTrailingSlash(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

// joinSnapshot 拼接目标路径与快照目录名, 对 user@host:path 形式同样适用
func joinSnapshot(dest, name string) string {
	return strings.TrimSuffix(dest, "/") + "/" + name
}
