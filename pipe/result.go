package pipe

import (
	"golang.org/x/sys/unix"
)

// ReturnStatus 返回第 i 个阶段的子进程经 wait 得到的原始状态。
// 对 Filter 阶段无意义
func (p *ExecPipe) ReturnStatus(i int) unix.WaitStatus {
	return p.stages[i].status
}

// ReturnCode 返回第 i 个阶段子进程的退出码，
// 子进程被信号终止时返回 -1
func (p *ExecPipe) ReturnCode(i int) int {
	st := p.stages[i]
	if st.status.Exited() {
		return st.status.ExitStatus()
	}
	return -1
}

// ReturnSignal 返回终止第 i 个阶段子进程的信号编号，
// 子进程正常退出时返回 -1
func (p *ExecPipe) ReturnSignal(i int) int {
	st := p.stages[i]
	if st.status.Signaled() {
		return int(st.status.Signal())
	}
	return -1
}

// AllReturnCodesZero 在所有 exec 阶段都以退出码 0 正常结束时
// 返回 true，Filter 阶段被跳过
func (p *ExecPipe) AllReturnCodesZero() bool {
	for i, st := range p.stages {
		if st.filter != nil {
			continue
		}
		if p.ReturnCode(i) != 0 {
			return false
		}
	}
	return true
}
