package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Command 描述一次外部命令调用
type Command struct {
	Name string
	Args []string
	// Stdout 不为空时, 子进程的标准输出只写入其中, Output.Stdout 为空
	Stdout io.Writer
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Output 是命令执行完成后捕获的输出
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner 执行外部命令并等待其结束
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// ExitError 表示命令以非零状态退出
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("命令执行失败 (%s): 退出码 %d, 输出: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("命令执行失败 (%s): 退出码 %d", e.Command, e.ExitCode)
}

type execRunner struct {
	// commandContext 测试时可替换
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

func newExecRunner() *execRunner {
	return &execRunner{commandContext: exec.CommandContext}
}

// Run 执行命令, 并发读取标准输出和标准错误直到进程退出
func (r *execRunner) Run(ctx context.Context, c Command) (*Output, error) {
	cmd := r.commandContext(ctx, c.Name, c.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("创建输出管道失败 (%s): %w", c.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("创建输出管道失败 (%s): %w", c.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动命令失败 (%s): %w", c, err)
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		var w io.Writer = &outBuf
		if c.Stdout != nil {
			w = c.Stdout
		}
		_, err := io.Copy(w, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})

	// 必须先读完管道再 Wait
	copyErr := g.Wait()
	waitErr := cmd.Wait()

	out := &Output{
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return out, &ExitError{
				Command:  c.String(),
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(out.Stderr),
			}
		}
		return out, fmt.Errorf("命令执行失败 (%s): %w", c, waitErr)
	}
	if copyErr != nil {
		return out, fmt.Errorf("读取命令输出失败 (%s): %w", c, copyErr)
	}
	return out, nil
}
