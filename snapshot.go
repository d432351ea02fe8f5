package main

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBackupPrefix = "BACKUP-"
	// snapshotTimeFormat 是去掉冒号和小数秒的 ISO-8601 UTC 时间, 字典序即时间顺序
	snapshotTimeFormat = "2006-01-02T150405Z"
)

func snapshotName(prefix string, t time.Time) string {
	return prefix + t.UTC().Format(snapshotTimeFormat)
}

// snapshotEntry 是目标目录中的一个快照目录
type snapshotEntry struct {
	Name    string
	ModTime time.Time
}

// sortSnapshots 按修改时间从新到旧排序, 时间相同时按名称倒序.
// rsync -a 会把源目录的修改时间带到新快照上, 相邻快照的时间经常相同.
func sortSnapshots(entries []snapshotEntry) []string {
	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].ModTime, entries[j].ModTime
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].Name > entries[j].Name
	})

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

// parseSnapshotListing 解析远程 `stat -c '%Y %n' -- prefix*/` 的输出并排序.
// 无法解析的行忽略.
func parseSnapshotListing(out, prefix string) []string {
	var entries []snapshotEntry
	for _, line := range strings.Split(out, "\n") {
		epoch, name, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok {
			continue
		}
		sec, err := strconv.ParseInt(epoch, 10, 64)
		if err != nil {
			continue
		}
		name = strings.TrimSuffix(name, "/")
		if !strings.HasPrefix(name, prefix) || strings.Contains(name, "/") {
			continue
		}
		entries = append(entries, snapshotEntry{Name: name, ModTime: time.Unix(sec, 0)})
	}
	return sortSnapshots(entries)
}
