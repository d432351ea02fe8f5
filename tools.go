package main

import (
	"bytes"

	"github.com/schollz/progressbar/v3"
)

// newSyncProgressBar 返回一个不定长度的进度条, 按 rsync 输出行数计数
func newSyncProgressBar(description string, quiet bool) *progressbar.ProgressBar {
	if quiet {
		return progressbar.DefaultSilent(-1, description)
	}
	return progressbar.Default(-1, description)
}

// lineCounter 每收到一行输出, 进度条加一
type lineCounter struct {
	bar *progressbar.ProgressBar
}

func (w lineCounter) Write(p []byte) (int, error) {
	if n := bytes.Count(p, []byte{'\n'}); n > 0 {
		_ = w.bar.Add(n)
	}
	return len(p), nil
}
