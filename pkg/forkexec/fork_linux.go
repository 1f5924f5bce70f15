package forkexec

import (
	"os"
	"strings"
	"syscall"
)

// Start 创建并启动子进程：
// 1. clone 创建子进程
// 2. 子进程中关闭无关描述符并安装标准输入/输出
// 3. 如果配置了 seccomp 过滤器则加载
// 4. 按顺序尝试每个候选路径的 execve
//
// 子进程侧的任何失败（dup3、seccomp、全部 execve 失败）
// 都以退出状态 255 结束，由父进程通过 wait 观察到。
//
// 返回值：
// - pid: 子进程的进程 ID
// - error: clone 或参数准备阶段的错误
func (r *Runner) Start() (int, error) {
	// 准备 execve 的候选路径、参数和环境变量
	execs, argv, env, err := prepareExec(r)
	if err != nil {
		return 0, err
	}

	// 获取 fork 锁，确保没有其他线程正在创建
	// 尚未设置 close-on-exec 标志的文件描述符
	syscall.ForkLock.Lock()

	// 即将调用 clone，之后到 execve 为止不能再分配内存
	beforeFork()

	pid, err1 := forkAndExecInChild(r, execs, argv, env)

	// 恢复父进程的信号处理和运行时状态
	afterFork()
	syscall.ForkLock.Unlock()

	if err1 != 0 {
		return 0, err1
	}
	return int(pid), nil
}

// prepareExec 准备 execve 系统调用所需的 C 风格参数。
// 返回候选程序路径数组（PATH 查找时每个目录一项）、argv 和 envp
func prepareExec(r *Runner) ([]*byte, []*byte, []*byte, error) {
	path := r.ExecPath
	if path == "" {
		if len(r.Args) == 0 {
			return nil, nil, nil, syscall.EINVAL
		}
		path = r.Args[0]
	}

	// 展开候选路径。含斜杠的路径不做 PATH 查找
	var candidates []string
	if r.SearchPath && !strings.Contains(path, "/") {
		dirs := os.Getenv("PATH")
		if dirs == "" {
			dirs = "/usr/local/bin:/usr/bin:/bin"
		}
		for _, dir := range strings.Split(dirs, ":") {
			if dir == "" {
				dir = "."
			}
			candidates = append(candidates, dir+"/"+path)
		}
	} else {
		candidates = []string{path}
	}

	execs := make([]*byte, 0, len(candidates))
	for _, c := range candidates {
		b, err := syscall.BytePtrFromString(c)
		if err != nil {
			return nil, nil, nil, err
		}
		execs = append(execs, b)
	}

	argv, err := syscall.SlicePtrFromStrings(r.Args)
	if err != nil {
		return nil, nil, nil, err
	}

	envv := r.Env
	if envv == nil {
		envv = syscall.Environ()
	}
	env, err := syscall.SlicePtrFromStrings(envv)
	if err != nil {
		return nil, nil, nil, err
	}
	return execs, argv, env, nil
}
