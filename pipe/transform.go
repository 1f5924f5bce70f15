package pipe

import "io"

// Source 在事件循环中产生管道的输入字节流。
//
// 输入缓冲区为空且 Source 尚未宣告结束时，事件循环调用 Poll。
// Poll 中可以多次向 out 写入数据；返回 true 表示之后可能还有
// 数据，false 表示不会再产生任何数据。首次返回 false 之后
// Poll 不会再被调用，缓冲区排空后输入端关闭，第一个阶段
// 由此观察到 eof
type Source interface {
	Poll(out io.Writer) bool
}

// Filter 是插在两个阶段之间的进程内数据处理对象。
//
// 上游每产生一段数据就调用一次 Process；上游关闭后调用一次
// EOF。两者都可以向 out 写入发往下一个阶段的数据。事件循环
// 不会自动转发任何字节：想要透传的 Filter 必须自己把数据
// 写入 out。所有回调都在事件循环的调用栈上串行执行
type Filter interface {
	Process(data []byte, out io.Writer)
	EOF(out io.Writer)
}

// Sink 接收管道的输出字节流。
// 语义与 Filter 相同，但没有输出通道，不能继续转发数据
type Sink interface {
	Process(data []byte)
	EOF()
}
