package forkexec

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// forkAndExecInChild 通过 clone 创建子进程并在其中完成描述符
// 安装和 execve。结构上参考 src/syscall/exec_linux.go。
//
// 返回值：
// - r1: 子进程的 PID（父进程中）
// - err1: clone 的错误码
//
// clone 之后子进程只允许使用 RawSyscall，
// 不能分配内存或调用非汇编函数
//
//go:norace
//go:nosplit
func forkAndExecInChild(r *Runner, execs, argv, env []*byte) (r1 uintptr, err1 syscall.Errno) {
	r1, _, err1 = syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if err1 != 0 || r1 != 0 {
		// 在父进程中，立即返回
		return
	}

	// 以下代码在子进程中执行

	// 关闭与本阶段无关的描述符，
	// 下游阶段才能在相邻阶段退出时观察到 eof
	for i := 0; i < len(r.CloseFds); i++ {
		syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(r.CloseFds[i]), 0, 0)
	}

	// 将分配的描述符安装为标准输入/输出
	if r.Stdin >= 0 && r.Stdin != 0 {
		if _, _, err1 = syscall.RawSyscall(unix.SYS_DUP3, uintptr(r.Stdin), 0, 0); err1 != 0 {
			childExit()
		}
	}
	if r.Stdout >= 0 && r.Stdout != 1 {
		if _, _, err1 = syscall.RawSyscall(unix.SYS_DUP3, uintptr(r.Stdout), 1, 0); err1 != 0 {
			childExit()
		}
	}

	// 加载 seccomp 过滤器
	if r.Seccomp != nil {
		if _, _, err1 = syscall.RawSyscall6(syscall.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0, 0); err1 != 0 {
			childExit()
		}
		if _, _, err1 = syscall.RawSyscall(unix.SYS_SECCOMP, seccompSetModeFilter, seccompFilterFlagTsync, uintptr(unsafe.Pointer(r.Seccomp))); err1 != 0 {
			childExit()
		}
	}

	// 按顺序尝试每个候选路径，任何一个 execve 成功则不再返回
	for i := 0; i < len(execs); i++ {
		syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(execs[i])),
			uintptr(unsafe.Pointer(&argv[0])), uintptr(unsafe.Pointer(&env[0])))
	}

	childExit()
	return
}

// childExit 以状态 255 结束子进程。
// 255 是调用方约定的子进程侧失败标记
//
//go:nosplit
func childExit() {
	for {
		syscall.RawSyscall(syscall.SYS_EXIT, 255, 0, 0)
	}
}
