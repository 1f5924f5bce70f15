package pipe

import (
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/zqzqsb/execpipe/pkg/forkexec"
)

// Run 执行已配置的管道序列并等待所有子进程结束：
// 1. wire 分配描述符
// 2. launch 启动所有 exec 阶段
// 3. eventLoop 在各描述符之间搬运数据，直到全部关闭
// 4. reap 回收每个子进程的退出状态
//
// 返回错误只覆盖配置和系统调用层面的失败；
// 子进程本身的成败要通过 ReturnCode / AllReturnCodesZero 检查
func (p *ExecPipe) Run() error {
	if len(p.stages) == 0 {
		return ErrNoStages
	}
	for _, st := range p.stages {
		if st.filter == nil && len(st.args) == 0 {
			return ErrEmptyArgs
		}
	}

	if err := p.wire(); err != nil {
		p.releaseFds()
		return err
	}
	if err := p.launch(); err != nil {
		p.releaseFds()
		p.reap()
		return err
	}

	// 即使事件循环中途失败也要先回收子进程，避免僵尸进程。
	// 失败时先释放循环持有的描述符，子进程才能观察到 eof 并退出
	loopErr := p.eventLoop()
	if loopErr != nil {
		p.releaseFds()
	}
	p.reap()
	p.log.Info("finished running pipe")
	return loopErr
}

// launch 是 Run 的第二阶段：依次 fork 所有 exec 阶段。
// 每个子进程关闭其他阶段的描述符并安装自己的标准输入/输出；
// 全部启动后父进程关闭 exec 阶段的两端，
// Filter 阶段的描述符保留给事件循环
func (p *ExecPipe) launch() error {
	var fprog *syscall.SockFprog
	if p.policy != nil {
		fprog = p.policy.SockFprog()
	}

	for i, st := range p.stages {
		if st.filter != nil {
			continue
		}
		p.log.WithField("argv", strings.Join(st.args, " ")).Info("exec stage")

		r := forkexec.Runner{
			Args:       st.args,
			Env:        st.env,
			ExecPath:   st.prog,
			SearchPath: st.searchPath && st.env == nil,
			Stdin:      st.stdinFd,
			Stdout:     st.stdoutFd,
			CloseFds:   p.unrelatedFds(i),
			Seccomp:    fprog,
		}
		pid, err := r.Start()
		if err != nil {
			return errors.Wrapf(err, "pipe: start stage %d", i)
		}
		st.pid = pid
	}

	for _, st := range p.stages {
		if st.filter != nil {
			continue
		}
		if st.stdinFd >= 0 {
			p.sclose(st.stdinFd)
			st.stdinFd = -1
		}
		if st.stdoutFd >= 0 {
			p.sclose(st.stdoutFd)
			st.stdoutFd = -1
		}
	}
	return nil
}

// unrelatedFds 收集阶段 i 的子进程需要关闭的描述符：
// 事件循环持有的两端和所有其他阶段的管道端
func (p *ExecPipe) unrelatedFds(i int) []int {
	var fds []int
	if p.inputFd >= 0 {
		fds = append(fds, p.inputFd)
	}
	if p.outputFd >= 0 {
		fds = append(fds, p.outputFd)
	}
	for j, st := range p.stages {
		if j == i {
			continue
		}
		if st.stdinFd >= 0 {
			fds = append(fds, st.stdinFd)
		}
		if st.stdoutFd >= 0 {
			fds = append(fds, st.stdoutFd)
		}
	}
	return fds
}

// pollAction 把 Poll 返回的每个描述符映射回它的角色
type pollAction struct {
	kind  int
	stage int // actStageIn / actStageOut 时的阶段下标
}

const (
	actInput    = iota // 管道输入写端
	actStageIn         // Filter 阶段的读端
	actStageOut        // Filter 阶段的写端
	actOutput          // 管道输出读端
)

// eventLoop 是 Run 的第三阶段：单线程的非阻塞事件循环。
//
// 每一轮先构建描述符集合：输入端有数据可写时注册可写；
// Filter 阶段的读端注册可读，出站缓冲非空时写端注册可写，
// 上游已关闭且缓冲排空时关闭写端让下游看到 eof；
// 输出端注册可读。没有描述符可注册时循环结束。
//
// EAGAIN 和 EINTR 是良性重试；其他读写错误记录日志后继续。
// 循环在全部描述符关闭后正常退出；只有 Poll 本身失败时
// 才提前返回错误
func (p *ExecPipe) eventLoop() error {
	var (
		scratch [4096]byte
		pfds    []unix.PollFd
		acts    []pollAction
	)

	for {
		pfds = pfds[:0]
		acts = acts[:0]

		// 输入端
		if p.inputFd >= 0 {
			if p.input == streamObject {
				if p.inputBuf.Len() == 0 && !p.sourceEOF && !p.inputSource.Poll(&p.inputBuf) {
					p.sourceEOF = true
				}
				if p.inputBuf.Len() == 0 && p.sourceEOF {
					p.closeInput()
				}
			}
			if p.inputFd >= 0 {
				pfds = append(pfds, unix.PollFd{Fd: int32(p.inputFd), Events: unix.POLLOUT})
				acts = append(acts, pollAction{kind: actInput})
				p.log.Debug("poll on input fd")
			}
		}

		// Filter 阶段
		for i, st := range p.stages {
			if st.filter == nil {
				continue
			}
			if st.stdinFd >= 0 {
				pfds = append(pfds, unix.PollFd{Fd: int32(st.stdinFd), Events: unix.POLLIN})
				acts = append(acts, pollAction{kind: actStageIn, stage: i})
				p.log.Debug("poll on stage input fd")
			}
			if st.stdoutFd >= 0 {
				if st.out.Len() > 0 {
					pfds = append(pfds, unix.PollFd{Fd: int32(st.stdoutFd), Events: unix.POLLOUT})
					acts = append(acts, pollAction{kind: actStageOut, stage: i})
					p.log.Debug("poll on stage output fd")
				} else if st.stdinFd < 0 {
					// 上游已关闭且缓冲已排空，下游由此看到 eof
					p.log.Info("close stage output fd")
					p.sclose(st.stdoutFd)
					st.stdoutFd = -1
				}
			}
		}

		// 输出端
		if p.outputFd >= 0 {
			pfds = append(pfds, unix.PollFd{Fd: int32(p.outputFd), Events: unix.POLLIN})
			acts = append(acts, pollAction{kind: actOutput})
			p.log.Debug("poll on output fd")
		}

		if len(pfds) == 0 {
			return nil
		}

		n, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			p.log.WithError(err).Error("poll failed")
			return errors.Wrap(err, "pipe: poll")
		}
		p.log.WithField("ready", n).Trace("poll returned")

		// POLLHUP/POLLERR 也要分发：挂起的读端要读出 eof，
		// 出错的写端要让写入暴露错误
		for k := range pfds {
			if pfds[k].Revents == 0 {
				continue
			}
			switch acts[k].kind {
			case actInput:
				p.handleInputWritable()
			case actStageIn:
				p.handleStageReadable(p.stages[acts[k].stage], scratch[:])
			case actStageOut:
				p.handleStageWritable(p.stages[acts[k].stage])
			case actOutput:
				p.handleOutputReadable(scratch[:])
			}
		}
	}
}

// handleInputWritable 把输入数据尽量写入第一个阶段，
// 直到写阻塞、出错或数据耗尽。
// 数据耗尽或不可恢复的错误都会关闭输入写端
func (p *ExecPipe) handleInputWritable() {
	if p.inputFd < 0 {
		return
	}

	if p.input == streamBytes {
		for {
			wb, err := unix.Write(p.inputFd, p.inputBytes[p.inputPos:])
			p.log.WithField("n", wb).Trace("write on input fd")
			if err != nil {
				if err != unix.EAGAIN && err != unix.EINTR {
					p.log.WithError(err).Debug("error writing to input fd")
					p.closeInput()
				}
				return
			}
			p.inputPos += wb
			if p.inputPos >= len(p.inputBytes) {
				p.closeInput()
				return
			}
			if wb == 0 {
				return
			}
		}
	}

	// Source 输入：排空输入缓冲区。
	// 这里不调用 Poll，Poll 只在构建描述符集合时进行
	for p.inputBuf.Len() > 0 {
		wb, err := unix.Write(p.inputFd, p.inputBuf.Bottom())
		p.log.WithField("n", wb).Trace("write on input fd")
		if err != nil {
			if err != unix.EAGAIN && err != unix.EINTR {
				p.log.WithError(err).Info("error writing to input fd")
				p.closeInput()
			}
			return
		}
		if wb == 0 {
			return
		}
		p.inputBuf.Advance(wb)
	}
}

// handleStageReadable 从 Filter 阶段的读端循环读取，
// 每读到一段数据就交给 Filter 的 Process。
// 读到 eof 时先调用一次 EOF 再关闭读端
func (p *ExecPipe) handleStageReadable(st *stage, scratch []byte) {
	if st.stdinFd < 0 {
		return
	}

	for {
		rb, err := unix.Read(st.stdinFd, scratch)
		p.log.WithField("n", rb).Trace("read on stage fd")
		if err != nil {
			if err != unix.EAGAIN && err != unix.EINTR {
				p.log.WithError(err).Error("error reading stage input fd")
			}
			return
		}
		if rb == 0 {
			p.log.Info("close stage input fd")
			st.filter.EOF(&st.out)
			p.sclose(st.stdinFd)
			st.stdinFd = -1
			return
		}
		st.filter.Process(scratch[:rb], &st.out)
	}
}

// handleStageWritable 把 Filter 阶段的出站缓冲尽量写给下一个
// 阶段。上游已关闭且缓冲排空后关闭写端；不可恢复的写错误
// 也会关闭写端并丢弃缓冲，否则循环会在坏描述符上空转
func (p *ExecPipe) handleStageWritable(st *stage) {
	if st.stdoutFd < 0 {
		return
	}

	for st.out.Len() > 0 {
		wb, err := unix.Write(st.stdoutFd, st.out.Bottom())
		p.log.WithField("n", wb).Trace("write on stage fd")
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				break
			}
			p.log.WithError(err).Info("error writing stage output fd")
			st.out.Reset()
			p.sclose(st.stdoutFd)
			st.stdoutFd = -1
			return
		}
		if wb == 0 {
			break
		}
		st.out.Advance(wb)
	}

	if st.stdinFd < 0 && st.out.Len() == 0 {
		p.log.Info("close stage output fd")
		p.sclose(st.stdoutFd)
		st.stdoutFd = -1
	}
}

// handleOutputReadable 从最后一个阶段循环读取输出，
// 交给输出缓冲或 Sink。读到 eof 时通知 Sink 并关闭读端
func (p *ExecPipe) handleOutputReadable(scratch []byte) {
	if p.outputFd < 0 {
		return
	}

	for {
		rb, err := unix.Read(p.outputFd, scratch)
		p.log.WithField("n", rb).Trace("read on output fd")
		if err != nil {
			if err != unix.EAGAIN && err != unix.EINTR {
				p.log.WithError(err).Error("error reading output fd")
			}
			return
		}
		if rb == 0 {
			p.log.Info("close output fd")
			if p.output == streamObject {
				p.outputSink.EOF()
			}
			p.sclose(p.outputFd)
			p.outputFd = -1
			return
		}
		if p.output == streamBytes {
			p.outputBuf.Write(scratch[:rb])
		} else {
			p.outputSink.Process(scratch[:rb])
		}
	}
}

// closeInput 关闭管道的输入写端
func (p *ExecPipe) closeInput() {
	p.log.Info("close input fd")
	p.sclose(p.inputFd)
	p.inputFd = -1
}

// sclose 关闭描述符并在失败时记录日志
func (p *ExecPipe) sclose(fd int) {
	if err := unix.Close(fd); err != nil {
		p.log.WithError(err).Error("could not correctly close fd")
	}
}

// reap 是 Run 的第四阶段：循环 wait 直到所有 exec 阶段的
// 子进程都被回收。未知 pid 记录日志后跳过；
// wait 失败记录日志后停止回收，不作为 Run 的错误返回
func (p *ExecPipe) reap() {
	want := 0
	for _, st := range p.stages {
		if st.filter == nil && st.pid > 0 {
			want++
		}
	}

	done := 0
	for done < want {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			p.log.WithError(err).Error("error calling wait")
			break
		}

		found := false
		for _, st := range p.stages {
			if st.filter != nil || st.pid != pid {
				continue
			}
			st.status = ws
			switch {
			case ws.Exited():
				p.log.WithField("pid", pid).WithField("code", ws.ExitStatus()).Info("finished exec stage")
			case ws.Signaled():
				p.log.WithField("pid", pid).WithField("signal", int(ws.Signal())).Info("finished exec stage")
			default:
				p.log.WithField("pid", pid).Error("unknown wait status for pid")
			}
			done++
			found = true
			break
		}
		if !found {
			p.log.WithField("pid", pid).Error("wait returned an unknown child pid")
		}
	}
}
