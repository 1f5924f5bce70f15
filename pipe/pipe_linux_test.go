package pipe

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/zqzqsb/execpipe/pkg/seccomp"
)

// TestNoneProgramString 测试 none -> echo -> string
func TestNoneProgramString(t *testing.T) {
	p := New()

	var output bytes.Buffer
	require.NoError(t, p.SetOutputBuffer(&output))

	p.AddExec("/bin/echo", "test123")

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())
	require.Equal(t, "test123\n", output.String())
}

// TestStringProgramString 测试 string -> cat -> string，
// 输入超过管道容量以覆盖事件循环的交错读写
func TestStringProgramString(t *testing.T) {
	p := New()

	input := append([]byte("test123"), bytes.Repeat([]byte{1}, 1024*1024)...)
	require.NoError(t, p.SetInputBytes(input))

	var output bytes.Buffer
	require.NoError(t, p.SetOutputBuffer(&output))

	p.AddExec("/bin/cat")

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())
	require.Equal(t, input, output.Bytes())
}

// TestStringTwoProgramsString 测试 string -> cat -> md5sum -> string
func TestStringTwoProgramsString(t *testing.T) {
	p := New()

	require.NoError(t, p.SetInputBytes([]byte("test123")))

	var output bytes.Buffer
	require.NoError(t, p.SetOutputBuffer(&output))

	p.AddExec("/bin/cat")
	p.AddExecP("md5sum")

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())
	require.True(t, strings.HasPrefix(output.String(), "cc03e747a6afbbcbf8be7668acfebee5"),
		"md5sum output %q", output.String())
}

// TestFileProgramString 测试 file -> sort -> string
func TestFileProgramString(t *testing.T) {
	p := New()

	require.NoError(t, p.SetInputFile("/etc/passwd"))

	var output bytes.Buffer
	require.NoError(t, p.SetOutputBuffer(&output))

	p.AddExecP("sort")

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())
	require.NotZero(t, output.Len())
}

// TestStringProgramFile 测试 string -> sort -> file
func TestStringProgramFile(t *testing.T) {
	path := t.TempDir() + "/sorted.txt"

	p := New()
	require.NoError(t, p.SetInputBytes([]byte("b\na\nc\n")))
	require.NoError(t, p.SetOutputFile(path, 0o666))

	p.AddExecP("sort")

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a\nb\nc\n", string(content))
}

// TestFdEndpoints 测试 fd -> cat -> fd。
// 传入的描述符所有权转移给管道，因此这里传复制出来的描述符
func TestFdEndpoints(t *testing.T) {
	dir := t.TempDir()
	inPath := dir + "/in.txt"
	outPath := dir + "/copy.txt"
	require.NoError(t, os.WriteFile(inPath, []byte("fd endpoints\n"), 0o666))

	in, err := os.Open(inPath)
	require.NoError(t, err)
	defer in.Close()

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	require.NoError(t, err)
	defer out.Close()

	inFd, err := unix.Dup(int(in.Fd()))
	require.NoError(t, err)
	outFd, err := unix.Dup(int(out.Fd()))
	require.NoError(t, err)

	p := New()
	require.NoError(t, p.SetInputFd(inFd))
	require.NoError(t, p.SetOutputFd(outFd))

	p.AddExec("/bin/cat")

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, "fd endpoints\n", string(got))
}

// TestThreeStages 测试多级管道的描述符布线
func TestThreeStages(t *testing.T) {
	p := New()

	require.NoError(t, p.SetInputBytes([]byte("through three cats\n")))

	var output bytes.Buffer
	require.NoError(t, p.SetOutputBuffer(&output))

	p.AddExec("/bin/cat")
	p.AddExec("/bin/cat")
	p.AddExec("/bin/cat")

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())
	require.Equal(t, "through three cats\n", output.String())
}

// TestNonexistentProgram 测试执行不存在的程序：
// 子进程以约定的状态 255 退出
func TestNonexistentProgram(t *testing.T) {
	p := New()

	p.AddExec("/nonexistent/program")

	require.NoError(t, p.Run())
	require.False(t, p.AllReturnCodesZero())
	require.Equal(t, 255, p.ReturnCode(0))
	require.Equal(t, -1, p.ReturnSignal(0))
	require.True(t, p.ReturnStatus(0).Exited())
}

// TestExplicitEnv 测试显式环境变量的 exec 变体
func TestExplicitEnv(t *testing.T) {
	p := New()

	var output bytes.Buffer
	require.NoError(t, p.SetOutputBuffer(&output))

	p.AddExecEnv("/bin/sh", []string{"sh", "-c", "set"}, []string{"TEST=123"})

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())
	require.Contains(t, output.String(), "TEST=123")
}

// TestArgvZeroSpoof 测试 AddExecEnv 不会用 path 覆盖 args[0]
func TestArgvZeroSpoof(t *testing.T) {
	p := New()

	var output bytes.Buffer
	require.NoError(t, p.SetOutputBuffer(&output))

	p.AddExecEnv("/bin/sh", []string{"customsh", "-c", "echo $0"}, nil)

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())
	require.Equal(t, "customsh\n", output.String())
}

// TestConfigErrors 测试配置错误
func TestConfigErrors(t *testing.T) {
	t.Run("no stages", func(t *testing.T) {
		p := New()
		require.ErrorIs(t, p.Run(), ErrNoStages)
	})

	t.Run("empty argument vector", func(t *testing.T) {
		p := New()
		p.AddExecArgs(nil)
		require.ErrorIs(t, p.Run(), ErrEmptyArgs)
	})

	t.Run("input reconfiguration", func(t *testing.T) {
		p := New()
		require.NoError(t, p.SetInputBytes([]byte("x")))
		require.ErrorIs(t, p.SetInputFile("/etc/passwd"), ErrInputConfigured)
		require.ErrorIs(t, p.SetInputFd(0), ErrInputConfigured)
	})

	t.Run("output reconfiguration", func(t *testing.T) {
		p := New()
		var buf bytes.Buffer
		require.NoError(t, p.SetOutputBuffer(&buf))
		require.ErrorIs(t, p.SetOutputFile("/tmp/x", 0o666), ErrOutputConfigured)
		require.ErrorIs(t, p.SetOutputSink(nil), ErrOutputConfigured)
	})

	t.Run("missing input file", func(t *testing.T) {
		p := New()
		require.NoError(t, p.SetInputFile("/nonexistent/input"))
		p.AddExec("/bin/cat")
		require.Error(t, p.Run())
	})
}

// TestDebugOutput 测试调试行回调收到日志输出
func TestDebugOutput(t *testing.T) {
	p := New()

	var lines []string
	p.SetDebugLevel(LevelInfo)
	p.SetDebugOutput(func(line string) {
		lines = append(lines, line)
	})

	var output bytes.Buffer
	require.NoError(t, p.SetOutputBuffer(&output))
	p.AddExec("/bin/echo", "debug")

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())
	require.NotEmpty(t, lines)

	joined := strings.Join(lines, "\n")
	require.Contains(t, joined, "exec stage")
	for _, line := range lines {
		require.NotContains(t, line, "\n")
	}
}

// TestSeccompAllowAll 测试带系统调用过滤器的 exec 阶段：
// 默认放行的过滤器不影响程序执行
func TestSeccompAllowAll(t *testing.T) {
	b := seccomp.Builder{Default: seccomp.ActionAllow}
	filter, err := b.Build()
	require.NoError(t, err)

	p := New()
	p.SetSeccomp(filter)

	var output bytes.Buffer
	require.NoError(t, p.SetOutputBuffer(&output))
	p.AddExec("/bin/echo", "sandboxed")

	require.NoError(t, p.Run())
	require.True(t, p.AllReturnCodesZero())
	require.Equal(t, "sandboxed\n", output.String())
}

// countFds 统计当前进程打开的描述符数
func countFds(t *testing.T) int {
	t.Helper()
	ents, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(ents)
}

// TestNoFdLeak 测试管道执行前后没有描述符泄漏
func TestNoFdLeak(t *testing.T) {
	run := func() {
		p := New()
		require.NoError(t, p.SetInputBytes([]byte("leak check\n")))
		var output bytes.Buffer
		require.NoError(t, p.SetOutputBuffer(&output))
		p.AddExec("/bin/cat")
		p.AddFunction(&passFilter{})
		p.AddExec("/bin/cat")
		require.NoError(t, p.Run())
		require.True(t, p.AllReturnCodesZero())
	}

	// 预热一次，排除惰性初始化打开的描述符
	run()

	before := countFds(t)
	for i := 0; i < 5; i++ {
		run()
	}
	require.Equal(t, before, countFds(t))
}
