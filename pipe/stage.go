package pipe

import (
	"github.com/zqzqsb/execpipe/pkg/ringbuf"
	"golang.org/x/sys/unix"
)

// stage 表示管道中的一个节点，
// 是 exec 阶段（子进程）或 Filter 阶段（进程内处理对象）之一
type stage struct {
	// exec 阶段的 argv，args[0] 即子进程看到的程序名
	args []string

	// 实际 execve 的程序路径，可以与 args[0] 不同
	prog string

	// 显式环境变量，nil 表示继承父进程环境
	env []string

	// 是否使用 PATH 查找的 exec 变体
	searchPath bool

	// Filter 阶段的处理对象，非 nil 时本阶段是 Filter 阶段
	filter Filter

	// Filter 阶段的出站缓冲区，
	// 事件循环写往下一阶段的字节只来源于这里
	out ringbuf.Buffer

	// 子进程的 pid 和 wait 返回的原始状态
	pid    int
	status unix.WaitStatus

	// 父进程为本阶段分配的标准输入/输出描述符，-1 表示未分配。
	// exec 阶段在子进程中 dup 到 0/1；Filter 阶段由事件循环读写
	stdinFd  int
	stdoutFd int
}

// newStage 创建一个所有描述符都未分配的阶段
func newStage() *stage {
	return &stage{stdinFd: -1, stdoutFd: -1}
}
