// Package forkexec 实现了管道阶段子进程的创建和执行
package forkexec

import (
	"syscall"
)

// Runner 是单个 exec 阶段的启动配置。
// 它通过 clone 创建子进程，在子进程中安装标准输入/输出描述符、
// 关闭无关描述符，然后执行 execve
type Runner struct {
	// Args 是子进程的 argv，Args[0] 即子进程看到的程序名。
	// 它不必与实际执行的程序路径一致，因此可以伪造 argv[0]
	Args []string

	// Env 是环境变量数组，格式为 "KEY=VALUE"。
	// 为 nil 时继承父进程的环境
	Env []string

	// ExecPath 是实际 execve 的程序路径。
	// 为空时取 Args[0]
	ExecPath string

	// SearchPath 控制是否在 $PATH 中查找不含斜杠的程序名。
	// 候选路径在父进程中展开，子进程按顺序逐个尝试 execve，
	// 因此找不到程序时子进程仍以 255 退出
	SearchPath bool

	// Stdin 和 Stdout 是要安装为标准输入/输出的描述符。
	// 通过 dup3 复制到 0 和 1，小于 0 表示保持继承的标准流不变
	Stdin  int
	Stdout int

	// CloseFds 是子进程中需要关闭的无关描述符，
	// 通常是管道中其他阶段的管道端和父进程持有的管道端。
	// 不能包含 Stdin 和 Stdout
	CloseFds []int

	// Seccomp 是可选的系统调用过滤器。
	// 非 nil 时在 execve 之前安装，并自动启用 no_new_privs
	Seccomp *syscall.SockFprog
}
