package pipe

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/zqzqsb/execpipe/pkg/ringbuf"
	"github.com/zqzqsb/execpipe/pkg/seccomp"
)

// 配置阶段可能返回的错误
var (
	// ErrNoStages 表示 Run 时管道中没有任何阶段
	ErrNoStages = errors.New("pipe: no stages added")

	// ErrEmptyArgs 表示某个 exec 阶段的参数向量为空
	ErrEmptyArgs = errors.New("pipe: empty argument vector")

	// ErrInputConfigured 表示输入端已经配置过
	ErrInputConfigured = errors.New("pipe: input already configured")

	// ErrOutputConfigured 表示输出端已经配置过
	ErrOutputConfigured = errors.New("pipe: output already configured")
)

// streamType 描述当前配置的输入或输出端类型
type streamType int

const (
	streamNone   streamType = iota // 继承父进程的标准流，不搬运数据
	streamFd                       // 调用方提供的已打开描述符
	streamFile                     // 由管道打开的文件路径
	streamBytes                    // 调用方持有的字节序列 / 输出缓冲
	streamObject                   // 参与事件循环的 Source / Sink 对象
)

// ExecPipe 是一个可配置的执行管道。
// 先注册输入端、各个阶段和输出端，再调用一次 Run；
// Run 返回后可以查询每个 exec 阶段的退出状态。
// ExecPipe 不支持重复执行，也不是并发安全的
type ExecPipe struct {
	log *pipeLogger

	// 输入端
	input       streamType
	inputFd     int // streamFd 时是调用方的 fd；streamBytes/streamObject 时是管道写端
	inputFile   string
	inputBytes  []byte
	inputPos    int // inputBytes 中已写出的偏移
	inputSource Source
	inputBuf    ringbuf.Buffer // Source 写入的输入缓冲区
	sourceEOF   bool           // Source 已宣告不会再有数据

	// 输出端
	output     streamType
	outputFd   int // streamFd 时是调用方的 fd；streamBytes/streamObject 时是管道读端
	outputFile string
	outputMode os.FileMode
	outputBuf  *bytes.Buffer
	outputSink Sink

	// 阶段按插入顺序排列，相邻阶段由内核管道连接
	stages []*stage

	// 可选的系统调用过滤器，应用到每个 exec 阶段
	policy seccomp.Filter
}

// New 创建一个空的执行管道
func New() *ExecPipe {
	return &ExecPipe{
		log:      newPipeLogger(xid.New().String()),
		inputFd:  -1,
		outputFd: -1,
	}
}

// SetDebugLevel 修改调试输出级别，默认为 LevelError
func (p *ExecPipe) SetDebugLevel(lvl DebugLevel) {
	p.log.setLevel(lvl)
}

// SetDebugOutput 替换调试输出的行回调。
// fn 为 nil 时恢复默认行为（打印到标准输出）
func (p *ExecPipe) SetDebugOutput(fn func(line string)) {
	p.log.setOutput(fn)
}

// SetSeccomp 为所有 exec 阶段设置系统调用过滤器，
// 在每个子进程 execve 之前安装
func (p *ExecPipe) SetSeccomp(f seccomp.Filter) {
	p.policy = f
}

// SetInputFd 将一个已打开的描述符指定为第一个阶段的输入流。
// 描述符的所有权转移给管道：fork 之后由父进程关闭
func (p *ExecPipe) SetInputFd(fd int) error {
	if p.input != streamNone {
		return ErrInputConfigured
	}
	p.input = streamFd
	p.inputFd = fd
	return nil
}

// SetInputFile 将一个文件指定为输入流来源。
// 文件在 Run 时以只读方式打开，由第一个阶段读取
func (p *ExecPipe) SetInputFile(path string) error {
	if p.input != streamNone {
		return ErrInputConfigured
	}
	p.input = streamFile
	p.inputFile = path
	return nil
}

// SetInputBytes 将 b 的内容指定为输入流。
// b 不会被复制，必须在 Run 返回之前保持有效
func (p *ExecPipe) SetInputBytes(b []byte) error {
	if p.input != streamNone {
		return ErrInputConfigured
	}
	p.input = streamBytes
	p.inputBytes = b
	return nil
}

// SetInputSource 将一个 Source 对象指定为输入流来源，
// 事件循环通过 Poll 向它索取数据并写给第一个阶段
func (p *ExecPipe) SetInputSource(s Source) error {
	if p.input != streamNone {
		return ErrInputConfigured
	}
	p.input = streamObject
	p.inputSource = s
	return nil
}

// SetOutputFd 将一个已打开的描述符指定为最后一个阶段的输出流。
// 描述符的所有权转移给管道：fork 之后由父进程关闭
func (p *ExecPipe) SetOutputFd(fd int) error {
	if p.output != streamNone {
		return ErrOutputConfigured
	}
	p.output = streamFd
	p.outputFd = fd
	return nil
}

// SetOutputFile 将一个文件指定为输出流目标。
// 文件在 Run 时以 perm 权限创建或截断
func (p *ExecPipe) SetOutputFile(path string, perm os.FileMode) error {
	if p.output != streamNone {
		return ErrOutputConfigured
	}
	p.output = streamFile
	p.outputFile = path
	p.outputMode = perm
	return nil
}

// SetOutputBuffer 将最后一个阶段的输出累积到 buf。
// buf 必须在 Run 返回之前保持有效
func (p *ExecPipe) SetOutputBuffer(buf *bytes.Buffer) error {
	if p.output != streamNone {
		return ErrOutputConfigured
	}
	p.output = streamBytes
	p.outputBuf = buf
	return nil
}

// SetOutputSink 将一个 Sink 对象指定为输出流目标，
// 事件循环把输出数据交给它的 Process，结束时调用 EOF
func (p *ExecPipe) SetOutputSink(s Sink) error {
	if p.output != streamNone {
		return ErrOutputConfigured
	}
	p.output = streamObject
	p.outputSink = s
	return nil
}

// AddExec 追加一个 exec 阶段，argv 为 prog 加上 args
func (p *ExecPipe) AddExec(prog string, args ...string) {
	st := newStage()
	st.prog = prog
	st.args = append([]string{prog}, args...)
	p.stages = append(p.stages, st)
}

// AddExecArgs 追加一个 exec 阶段，程序路径取 args[0]，
// argv 原样使用。args 不会被复制
func (p *ExecPipe) AddExecArgs(args []string) {
	st := newStage()
	if len(args) > 0 {
		st.prog = args[0]
	}
	st.args = args
	p.stages = append(p.stages, st)
}

// AddExecP 与 AddExec 相同，但不含斜杠的程序名会在 $PATH 中查找
func (p *ExecPipe) AddExecP(prog string, args ...string) {
	st := newStage()
	st.prog = prog
	st.args = append([]string{prog}, args...)
	st.searchPath = true
	p.stages = append(p.stages, st)
}

// AddExecPArgs 与 AddExecArgs 相同，但程序名会在 $PATH 中查找
func (p *ExecPipe) AddExecPArgs(args []string) {
	st := newStage()
	if len(args) > 0 {
		st.prog = args[0]
	}
	st.args = args
	st.searchPath = true
	p.stages = append(p.stages, st)
}

// AddExecEnv 追加一个带显式环境变量的 exec 阶段。
// 这是最灵活的变体：argv 原样取自 args，args[0] 不会被 path
// 覆盖，因此可以伪造程序名；env 为 nil 时继承父进程环境。
// args 和 env 都不会被复制
func (p *ExecPipe) AddExecEnv(path string, args, env []string) {
	st := newStage()
	st.prog = path
	st.args = args
	st.env = env
	p.stages = append(p.stages, st)
}

// AddFunction 追加一个 Filter 阶段。
// f 会在事件循环的调用栈上收到流经本阶段的数据
func (p *ExecPipe) AddFunction(f Filter) {
	st := newStage()
	st.filter = f
	p.stages = append(p.stages, st)
}

// Size 返回已添加的阶段数
func (p *ExecPipe) Size() int {
	return len(p.stages)
}
