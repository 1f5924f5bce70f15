package seccomp

import (
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
)

// Builder 用于构建 seccomp 过滤器。
// Allow 是允许执行的系统调用名列表，
// Default 是列表之外系统调用的默认动作
type Builder struct {
	Allow   []string
	Default Action
}

// Build 将 Builder 中的配置编译为可安装的 BPF 过滤器：
// 1. 创建过滤策略
// 2. 编译为 BPF 程序
// 3. 转换为内核可读格式
func (b *Builder) Build() (Filter, error) {
	if len(b.Allow) == 0 {
		// 允许列表为空时所有系统调用都走默认动作，
		// 过滤器只需一条返回指令
		return ExportBPF([]bpf.Instruction{
			bpf.RetConstant{Val: uint32(toSeccompAction(b.Default))},
		})
	}

	policy := libseccomp.Policy{
		DefaultAction: toSeccompAction(b.Default),
		Syscalls: []libseccomp.SyscallGroup{
			{
				Action: libseccomp.ActionAllow,
				Names:  b.Allow,
			},
		},
	}

	program, err := policy.Assemble()
	if err != nil {
		return nil, err
	}
	return ExportBPF(program)
}

// ExportBPF 将 BPF 指令序列汇编并转换为内核可读的过滤器
func ExportBPF(filter []bpf.Instruction) (Filter, error) {
	raw, err := bpf.Assemble(filter)
	if err != nil {
		return nil, err
	}
	return sockFilter(raw), nil
}

// sockFilter 将原始 BPF 指令转换为内核使用的 SockFilter 格式
func sockFilter(raw []bpf.RawInstruction) []syscall.SockFilter {
	filter := make([]syscall.SockFilter, 0, len(raw))
	for _, instruction := range raw {
		filter = append(filter, syscall.SockFilter{
			Code: instruction.Op,
			Jt:   instruction.Jt,
			Jf:   instruction.Jf,
			K:    instruction.K,
		})
	}
	return filter
}

// toSeccompAction 将 Action 转换为 libseccomp 库的动作类型
func toSeccompAction(a Action) libseccomp.Action {
	var action libseccomp.Action
	switch a.Action() {
	case ActionAllow:
		action = libseccomp.ActionAllow
	case ActionErrno:
		action = libseccomp.ActionErrno
	default:
		action = libseccomp.ActionKillProcess
	}
	return action
}
