package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const (
	logTimeFormat = "2006-01-02 15:04:05"
	// maxLogFileSize 超过该大小的日志文件在启动时压缩归档
	maxLogFileSize = 10 << 20
)

type logOptions struct {
	File    string
	Verbose bool
	// Console 默认为 os.Stderr
	Console io.Writer
	// Pending 是日志文件打开前已输出到控制台的记录, 打开后补写到文件
	Pending []slog.Record
}

// newLogger 创建输出到控制台的日志记录器, 配置了日志文件时同时追加写入文件.
// 日志文件无法打开时只输出一次警告, 之后仅写控制台.
func newLogger(opts logOptions) (*slog.Logger, func() error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	noColor := true
	if f, ok := console.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      level,
		TimeFormat: logTimeFormat,
		NoColor:    noColor,
	})

	noop := func() error { return nil }
	if opts.File == "" {
		return slog.New(consoleHandler), noop
	}

	archived, rotateErr := rotateLogFile(opts.File, maxLogFileSize, time.Now())
	file, err := openLogFile(opts.File)
	if err != nil {
		logger := slog.New(consoleHandler)
		logger.Warn("无法打开日志文件, 仅输出到控制台", "file", opts.File, "error", err)
		return logger, noop
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	for _, r := range opts.Pending {
		if fileHandler.Enabled(context.Background(), r.Level) {
			_ = fileHandler.Handle(context.Background(), r)
		}
	}
	logger := slog.New(newMultiHandler(consoleHandler, fileHandler))
	if rotateErr != nil {
		logger.Warn("日志文件归档失败", "file", opts.File, "error", rotateErr)
	} else if archived != "" {
		logger.Info("日志文件已归档", "archive", archived)
	}
	return logger, file.Close
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// rotateLogFile 在日志文件达到 limit 时将其 gzip 压缩为 <path>.<时间>.gz 并清空原文件.
// 返回归档文件路径, 未归档时为空.
func rotateLogFile(path string, limit int64, now time.Time) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.Size() < limit {
		return "", nil
	}

	archive := fmt.Sprintf("%s.%s.gz", path, now.UTC().Format(snapshotTimeFormat))
	if err := gzipFile(path, archive); err != nil {
		_ = os.Remove(archive)
		return "", err
	}
	if err := os.Truncate(path, 0); err != nil {
		return archive, err
	}
	return archive, nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return err
	}
	zw.Name = filepath.Base(src)
	if _, err := io.Copy(zw, in); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

// multiHandler 将日志记录分发给多个 handler
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) *multiHandler {
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return newMultiHandler(handlers...)
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return newMultiHandler(handlers...)
}

// recordBuffer 保存经过它的所有日志记录, 供日志文件打开后补写
type recordBuffer struct {
	store  *recordStore
	attrs  []slog.Attr
	groups []string
}

type recordStore struct {
	mu      sync.Mutex
	records []slog.Record
}

func newRecordBuffer() *recordBuffer {
	return &recordBuffer{store: &recordStore{}}
}

// Records 返回目前保存的记录
func (h *recordBuffer) Records() []slog.Record {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return append([]slog.Record(nil), h.store.records...)
}

func (h *recordBuffer) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordBuffer) Handle(_ context.Context, r slog.Record) error {
	var attrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	rec := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	rec.AddAttrs(h.attrs...)
	rec.AddAttrs(h.grouped(attrs)...)

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.records = append(h.store.records, rec)
	return nil
}

func (h *recordBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordBuffer{
		store:  h.store,
		attrs:  append(slices.Clone(h.attrs), h.grouped(attrs)...),
		groups: h.groups,
	}
}

func (h *recordBuffer) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &recordBuffer{
		store:  h.store,
		attrs:  h.attrs,
		groups: append(slices.Clone(h.groups), name),
	}
}

// grouped 把 attrs 包进当前的分组
func (h *recordBuffer) grouped(attrs []slog.Attr) []slog.Attr {
	if len(attrs) == 0 {
		return nil
	}
	for i := len(h.groups) - 1; i >= 0; i-- {
		attrs = []slog.Attr{{Key: h.groups[i], Value: slog.GroupValue(attrs...)}}
	}
	return attrs
}
