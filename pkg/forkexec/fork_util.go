package forkexec

// 导入 unsafe 包是为了使用 go:linkname 指令
// go:linkname 允许我们链接到 runtime 包中的私有函数
import _ "unsafe"

// beforeFork 在执行 clone 之前被调用。
// 它会保存并阻塞当前线程的信号，并禁止栈增长，
// 使 clone 之后的子进程代码可以安全执行
//
//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

// afterFork 在父进程的 clone 操作完成后被调用。
// 它会恢复信号掩码并重新允许栈增长
//
//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()
