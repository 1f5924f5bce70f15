package forkexec

// 定义 syscall 包中缺少的常量
const (
	// seccompSetModeFilter 是 seccomp 的过滤器模式，
	// 允许使用 BPF 过滤器定义允许的系统调用
	seccompSetModeFilter = 1

	// seccompFilterFlagTsync 表示同步所有线程的 seccomp 过滤器
	seccompFilterFlagTsync = 1
)
