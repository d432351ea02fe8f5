package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Local 是本地文件系统上的端点
type Local struct{}

func (Local) Exists(_ context.Context, path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (Local) MkdirAll(_ context.Context, path string) error {
	return os.MkdirAll(path, 0755)
}

func (Local) Snapshots(_ context.Context, dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取目录失败 (%s): %w", dir, err)
	}

	var snapshots []snapshotEntry
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// 列目录之后被删除
			continue
		}
		snapshots = append(snapshots, snapshotEntry{Name: info.Name(), ModTime: info.ModTime()})
	}
	return sortSnapshots(snapshots), nil
}
