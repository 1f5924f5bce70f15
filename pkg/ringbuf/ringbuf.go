// Package ringbuf 提供了一个面向字节的自动增长环形缓冲区，
// 用于在管道和进程内处理对象之间暂存数据
package ringbuf

// 缓冲区首次分配的最小容量
const minAlloc = 1024

// Buffer 是一个字节 FIFO，底层空间以环形方式使用，容量按需翻倍增长
//
// 未读数据有两种布局。线性状态下未读区域是一段连续切片：
//
//	+------------+------------------------+----------------------------+
//	| 空闲       |        数据            |            空闲            |
//	+------------+------------------------+----------------------------+
//	             ^bottom                  ^bottom+size
//
// 回绕状态下未读区域分为尾部和头部两段：
//
//	+------------+--------------------------------------+--------------+
//	| 数据(续)   |               空闲                   |     数据     |
//	+------------+--------------------------------------+--------------+
//	             ^bottom+size-cap                       ^bottom
//
// Bottom 返回第一段连续可读数据；读完一段后调用 Advance 移动读指针。
// Buffer 不是并发安全的
type Buffer struct {
	data   []byte // 底层存储
	size   int    // 未读字节数
	bottom int    // 未读区域的起始偏移
}

// Len 返回当前未读字节数
func (b *Buffer) Len() int {
	return b.size
}

// Cap 返回当前已分配的容量
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Reset 清空缓冲区但不释放底层存储
func (b *Buffer) Reset() {
	b.size = 0
	b.bottom = 0
}

// Bottom 返回从读指针开始的第一段连续未读数据。
// 缓冲区回绕时这一段可能短于 Len()，处理完后用 Advance 消费，
// 再次调用 Bottom 获得剩余部分
func (b *Buffer) Bottom() []byte {
	return b.data[b.bottom : b.bottom+b.bottomSize()]
}

// bottomSize 返回读指针处连续可读的字节数
func (b *Buffer) bottomSize() int {
	if b.bottom+b.size > len(b.data) {
		return len(b.data) - b.bottom
	}
	return b.size
}

// Advance 将读指针前移 n 字节，标记这部分数据已被消费。
// n 不能超过 Len()
func (b *Buffer) Advance(n int) {
	if n < 0 || n > b.size {
		panic("ringbuf: advance beyond buffered data")
	}
	b.bottom += n
	b.size -= n
	if b.bottom >= len(b.data) {
		b.bottom -= len(b.data)
	}
}

// Write 将 p 追加到缓冲区尾部，必要时增长容量。
// 实现 io.Writer，永远返回 len(p) 和 nil
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if len(b.data) < b.size+len(p) {
		b.grow(b.size + len(p))
	}

	if b.bottom+b.size > len(b.data) {
		// 已经回绕，新数据紧跟在头部数据之后
		copy(b.data[b.bottom+b.size-len(b.data):], p)
	} else {
		// 先填满尾部空间，放不下的部分回绕到头部
		tailfit := len(b.data) - (b.bottom + b.size)
		if tailfit >= len(p) {
			copy(b.data[b.bottom+b.size:], p)
		} else {
			copy(b.data[b.bottom+b.size:], p[:tailfit])
			copy(b.data, p[tailfit:])
		}
	}
	b.size += len(p)
	return len(p), nil
}

// grow 将容量翻倍增长到能容纳 need 字节。
// 回绕状态下把尾段数据搬到新缓冲区末尾，保持回绕布局和逻辑顺序
func (b *Buffer) grow(need int) {
	newcap := len(b.data)
	for newcap < need {
		if newcap == 0 {
			newcap = minAlloc
		} else {
			newcap *= 2
		}
	}

	ndata := make([]byte, newcap)
	if b.bottom+b.size > len(b.data) {
		head := b.bottom + b.size - len(b.data)
		taillen := len(b.data) - b.bottom
		copy(ndata, b.data[:head])
		copy(ndata[newcap-taillen:], b.data[b.bottom:])
		b.bottom = newcap - taillen
	} else {
		copy(ndata[b.bottom:], b.data[b.bottom:b.bottom+b.size])
	}
	b.data = ndata
}
