package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess 不是真正的测试, 供子进程使用:
//
//	GO_WANT_HELPER_PROCESS=cli  以参数运行 linktrack 命令行
//	GO_WANT_HELPER_PROCESS=exec 模拟外部命令, 见 helperCommand
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("GO_WANT_HELPER_PROCESS")
	if mode == "" {
		return
	}

	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}

	switch mode {
	case "cli":
		rootCmd.SetArgs(args)
		main()
		os.Exit(0)
	case "exec":
		// args: <name> <action> <value>
		if len(args) < 3 {
			os.Exit(2)
		}
		switch args[1] {
		case "stdout":
			fmt.Fprint(os.Stdout, args[2])
		case "stderr":
			fmt.Fprint(os.Stderr, args[2])
		case "exit":
			code, _ := strconv.Atoi(args[2])
			fmt.Fprint(os.Stderr, "boom")
			os.Exit(code)
		}
		os.Exit(0)
	}
	os.Exit(2)
}

// helperCommand 代替 exec.CommandContext, 让子进程执行 TestHelperProcess
func helperCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cs := append([]string{"-test.run=TestHelperProcess", "--", name}, arg...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=exec")
	return cmd
}

// runCLI 在子进程中运行命令行, 以便检查退出码
func runCLI(t *testing.T, dir string, args ...string) (string, int) {
	t.Helper()

	cmd := exec.Command(os.Args[0], append([]string{"-test.run=TestHelperProcess", "--"}, args...)...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=cli", "NO_COLOR=1")

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if err == nil {
		return buf.String(), 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return buf.String(), ee.ExitCode()
	}
	t.Fatalf("unexpected error running CLI: %v", err)
	return "", 0
}

func TestCLI_ExitCodes(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a")
	require.NoError(t, os.Mkdir(src, 0755))
	malformed, err := filepath.Abs("testdata/malformed.json")
	require.NoError(t, err)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		contains []string
	}{
		{
			name:     "no configuration prints usage",
			wantCode: 1,
			contains: []string{"Usage:", "--src", "缺少必填参数"},
		},
		{
			name:     "dest missing prints usage",
			args:     []string{"-s", src},
			wantCode: 1,
			contains: []string{"Usage:"},
		},
		{
			name:     "malformed config file",
			args:     []string{"-c", malformed},
			wantCode: 1,
			contains: []string{"malformed.json"},
		},
		{
			name:     "partial remote triple",
			args:     []string{"-s", src, "-d", filepath.Join(root, "b"), "-R", "dest"},
			wantCode: 1,
			contains: []string{"remoteRole"},
		},
		{
			name:     "missing local source",
			args:     []string{"-s", filepath.Join(root, "nope"), "-d", filepath.Join(root, "b")},
			wantCode: 1,
			contains: []string{filepath.Join(root, "nope")},
		},
		{
			name:     "dry run",
			args:     []string{"-q", "--dry-run", "-s", src, "-d", filepath.Join(root, "b")},
			wantCode: 0,
			contains: []string{"DRY RUN", "rsync -a --delete"},
		},
		{
			name:     "config command",
			args:     []string{"config", "-s", src, "-d", "/backups", "-p", "X-"},
			wantCode: 0,
			contains: []string{"src: " + src, "dest: /backups", "backupPrefix: X-"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, code := runCLI(t, root, tt.args...)
			assert.Equal(t, tt.wantCode, code, out)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
	assert.NoDirExists(t, filepath.Join(root, "b"))
}

func Test_setup(t *testing.T) {
	t.Run("validation warnings reach the log file", func(t *testing.T) {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "run.log")
		missing := filepath.Join(dir, "nope.txt")
		cmd := newFlagCmd(t, "-s", dir, "-d", filepath.Join(dir, "b"), "-e", missing, "-l", logFile)

		s, err := setup(cmd)
		require.NoError(t, err)
		s.log.Info("after setup")
		s.close()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "nope.txt")
		assert.Contains(t, string(data), "after setup")
	})

	t.Run("ignored flags warning reaches the log file", func(t *testing.T) {
		dir := t.TempDir()
		logFile := filepath.Join(dir, "run.log")
		cfgPath := filepath.Join(dir, "custom.json")
		data := fmt.Sprintf(`{"src": %q, "dest": %q, "logFile": %q}`, dir, filepath.Join(dir, "b"), logFile)
		require.NoError(t, os.WriteFile(cfgPath, []byte(data), 0644))
		cmd := newFlagCmd(t, "--config", cfgPath, "-s", "/ignored")

		s, err := setup(cmd)
		require.NoError(t, err)
		s.close()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "level=WARN")
		assert.Contains(t, string(content), "--src")
	})
}
