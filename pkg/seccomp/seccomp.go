// Package seccomp 为管道中的 exec 阶段生成系统调用过滤器。
// 过滤器在父进程中提前编译好，由启动器在子进程 execve 之前
// 通过 seccomp(SECCOMP_SET_MODE_FILTER) 安装，
// 用于限制阶段子进程可以使用的系统调用
package seccomp

import "syscall"

// Filter 是编译好的 BPF 指令序列，
// 一个 Filter 可以安装到管道的多个 exec 阶段上
type Filter []syscall.SockFilter

// SockFprog 把 Filter 包装成内核期望的 SockFprog 结构，
// 供子进程侧的 seccomp 系统调用使用。
//
// 返回值引用切片的底层数组，过滤器在所有阶段
// execve 完成之前必须保持存活
func (f Filter) SockFprog() *syscall.SockFprog {
	b := []syscall.SockFilter(f)
	return &syscall.SockFprog{
		Len:    uint16(len(b)),
		Filter: &b[0],
	}
}
