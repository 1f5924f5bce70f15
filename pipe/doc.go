// Package pipe 实现了一个执行管道编排器：
// 它把一串子进程用匿名管道串联起来，类似 shell 的管道语法，
// 并允许在任意两个阶段之间或序列两端插入进程内的数据处理对象。
//
// 一个执行管道由输入端、若干阶段和输出端组成：
//
//	  输入端    |                                      |    输出端
//	   none    |              execve                  |     none
//	    fd     |                或                    |      fd
//	   file    |-> 阶段 ->    Filter     -> 阶段 ->...|     file
//	  []byte   |                                      |  bytes.Buffer
//	  Source   |                                      |     Sink
//
// 相邻阶段之间由内核管道连接，前一个阶段的标准输出接到
// 后一个阶段的标准输入。配置完成后调用 Run，它会启动全部
// 子进程，在单线程事件循环中用非阻塞 I/O 搬运数据，
// 并在所有描述符关闭后回收每个子进程的退出状态。
//
// 典型用法：
//
//	p := pipe.New()
//	p.SetInputBytes(data)
//	p.AddExec("/bin/gzip", "-c")
//	p.AddExecP("sha256sum")
//	var out bytes.Buffer
//	p.SetOutputBuffer(&out)
//	if err := p.Run(); err != nil {
//		// 配置或系统调用错误
//	}
//	if !p.AllReturnCodesZero() {
//		// 某个子进程以非零状态退出
//	}
package pipe
