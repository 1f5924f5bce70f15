package pipe

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// wire 是 Run 的第一阶段：为每个阶段分配标准输入/输出描述符。
// 输入/输出端是 []byte 或对象时创建由事件循环驱动的管道，
// 相邻阶段之间创建内核管道。与 Filter 阶段相连的管道端以及
// 事件循环持有的管道端都设置为非阻塞。
// 任何系统调用失败都在 fork 之前返回，调用方负责释放已打开的描述符
func (p *ExecPipe) wire() error {
	first := p.stages[0]
	last := p.stages[len(p.stages)-1]

	// 输入端
	switch p.input {
	case streamNone:
		// fork 之后不改动标准输入

	case streamBytes, streamObject:
		var fds [2]int
		if err := unix.Pipe(fds[:]); err != nil {
			return errors.Wrap(err, "pipe: create input pipe")
		}
		// 先记录两端，出错时 releaseFds 才能关闭它们
		p.inputFd = fds[1]
		first.stdinFd = fds[0]
		if err := unix.SetNonblock(fds[1], true); err != nil {
			return errors.Wrap(err, "pipe: set input pipe non-blocking")
		}
		if first.filter != nil {
			if err := unix.SetNonblock(fds[0], true); err != nil {
				return errors.Wrap(err, "pipe: set input pipe non-blocking")
			}
		}

	case streamFile:
		fd, err := unix.Open(p.inputFile, unix.O_RDONLY, 0)
		if err != nil {
			return errors.Wrapf(err, "pipe: open input file %s", p.inputFile)
		}
		first.stdinFd = fd
		if first.filter != nil {
			if err := unix.SetNonblock(fd, true); err != nil {
				return errors.Wrap(err, "pipe: set input fd non-blocking")
			}
		}

	case streamFd:
		// 调用方的描述符转移到第一个阶段
		first.stdinFd = p.inputFd
		p.inputFd = -1
		if first.filter != nil {
			if err := unix.SetNonblock(first.stdinFd, true); err != nil {
				return errors.Wrap(err, "pipe: set input fd non-blocking")
			}
		}
	}

	// 相邻阶段之间的管道：
	// 写端给阶段 i 的标准输出，读端给阶段 i+1 的标准输入
	for i := 0; i < len(p.stages)-1; i++ {
		var fds [2]int
		if err := unix.Pipe(fds[:]); err != nil {
			return errors.Wrap(err, "pipe: create stage pipe")
		}
		p.stages[i].stdoutFd = fds[1]
		p.stages[i+1].stdinFd = fds[0]

		if p.stages[i].filter != nil {
			if err := unix.SetNonblock(fds[1], true); err != nil {
				return errors.Wrap(err, "pipe: set stage pipe non-blocking")
			}
		}
		if p.stages[i+1].filter != nil {
			if err := unix.SetNonblock(fds[0], true); err != nil {
				return errors.Wrap(err, "pipe: set stage pipe non-blocking")
			}
		}
	}

	// 输出端
	switch p.output {
	case streamNone:
		// fork 之后不改动标准输出

	case streamBytes, streamObject:
		var fds [2]int
		if err := unix.Pipe(fds[:]); err != nil {
			return errors.Wrap(err, "pipe: create output pipe")
		}
		// 先记录两端，出错时 releaseFds 才能关闭它们
		last.stdoutFd = fds[1]
		p.outputFd = fds[0]
		if err := unix.SetNonblock(fds[0], true); err != nil {
			return errors.Wrap(err, "pipe: set output pipe non-blocking")
		}
		if last.filter != nil {
			if err := unix.SetNonblock(fds[1], true); err != nil {
				return errors.Wrap(err, "pipe: set output pipe non-blocking")
			}
		}

	case streamFile:
		fd, err := unix.Open(p.outputFile, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, uint32(p.outputMode.Perm()))
		if err != nil {
			return errors.Wrapf(err, "pipe: open output file %s", p.outputFile)
		}
		last.stdoutFd = fd

	case streamFd:
		// 调用方的描述符转移到最后一个阶段
		last.stdoutFd = p.outputFd
		p.outputFd = -1
		if last.filter != nil {
			if err := unix.SetNonblock(last.stdoutFd, true); err != nil {
				return errors.Wrap(err, "pipe: set output fd non-blocking")
			}
		}
	}

	return nil
}

// releaseFds 关闭各阶段和事件循环仍持有的描述符，
// 用于 wire、launch 或事件循环出错时的清理
func (p *ExecPipe) releaseFds() {
	for _, st := range p.stages {
		if st.stdinFd >= 0 {
			unix.Close(st.stdinFd)
			st.stdinFd = -1
		}
		if st.stdoutFd >= 0 {
			unix.Close(st.stdoutFd)
			st.stdoutFd = -1
		}
	}
	if p.inputFd >= 0 && p.input != streamFd {
		unix.Close(p.inputFd)
		p.inputFd = -1
	}
	if p.outputFd >= 0 && p.output != streamFd {
		unix.Close(p.outputFd)
		p.outputFd = -1
	}
}
