package engine

import (
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/logger"
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	opLoad   = "load"
	opDetect = "detect"
)

var errWorkerExited = errors.New("keypoint worker exited")

type workerRequest struct {
	Op        string `msgpack:"op"`
	Seq       uint64 `msgpack:"seq"`
	Model     string `msgpack:"model,omitempty"`
	InputSize int    `msgpack:"input_size,omitempty"`
	FrameData []byte `msgpack:"frame_data,omitempty"`
	Width     int    `msgpack:"width,omitempty"`
	Height    int    `msgpack:"height,omitempty"`
}

type workerResponse struct {
	Seq       uint64 `msgpack:"seq"`
	OK        bool   `msgpack:"ok"`
	Error     string `msgpack:"error"`
	Keypoints []any  `msgpack:"keypoints"`
}

// SubprocessBackend 通过子进程 stdin/stdout 交换长度前缀（4 字节大端）的 msgpack 消息。
// 子进程对每个请求按 seq 回一条响应，load 请求的响应表示模型是否加载成功。
type SubprocessBackend struct {
	Command      string
	Args         []string
	ModelPath    string
	InputSize    int
	WriteTimeout time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex
	seq     uint64
	pending map[uint64]chan workerResponse
	exited  chan struct{}
	log     *zap.Logger
}

func NewSubprocessBackend(command string, args []string, modelPath string, inputSize int) *SubprocessBackend {
	return &SubprocessBackend{
		Command:      command,
		Args:         args,
		ModelPath:    modelPath,
		InputSize:    inputSize,
		WriteTimeout: 2 * time.Second,
		log:          logger.Named("subprocess-backend"),
	}
}

func (b *SubprocessBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		Backend:   "subprocess",
		ModelPath: b.ModelPath,
		Endpoint:  b.Command,
		InputSize: b.InputSize,
	}
}

func (b *SubprocessBackend) SetInputSize(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.InputSize = size
}

// LoadModel 启动子进程（若未启动）并请求加载模型；加载失败时子进程被回收，下次重试重新拉起
func (b *SubprocessBackend) LoadModel(ctx context.Context) error {
	if err := b.spawn(); err != nil {
		return err
	}
	resp, err := b.roundTrip(ctx, workerRequest{Op: opLoad, Model: b.ModelPath, InputSize: b.inputSize()})
	if err != nil {
		b.Destroy()
		return err
	}
	if !resp.OK {
		b.Destroy()
		return fmt.Errorf("worker rejected model %q: %s", b.ModelPath, resp.Error)
	}
	return nil
}

func (b *SubprocessBackend) Detect(ctx context.Context, frame iface.Frame) ([]iface.RawKeypoint, error) {
	data, width, height, err := prepareFrame(frame, b.inputSize())
	if err != nil {
		return nil, err
	}
	resp, err := b.roundTrip(ctx, workerRequest{Op: opDetect, FrameData: data, Width: width, Height: height})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("worker detect failed: %s", resp.Error)
	}
	return keypoint.DecodeRaw(resp.Keypoints), nil
}

// Destroy 关闭 stdin 让子进程自行退出，2 秒内未退出则强制结束
func (b *SubprocessBackend) Destroy() {
	b.mu.Lock()
	cmd, stdin, exited := b.cmd, b.stdin, b.exited
	b.cmd, b.stdin = nil, nil
	b.mu.Unlock()
	if cmd == nil {
		return
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		b.log.Warn("worker stop timeout, killing process", zap.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-exited
	}
}

func (b *SubprocessBackend) inputSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.InputSize
}

func (b *SubprocessBackend) spawn() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd != nil {
		return nil
	}
	if b.Command == "" {
		return errors.New("subprocess backend: empty command")
	}
	cmd := exec.Command(b.Command, b.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start keypoint worker: %w", err)
	}
	b.log.Info("keypoint worker spawned", zap.String("command", b.Command), zap.Int("pid", cmd.Process.Pid))

	b.cmd = cmd
	b.stdin = stdin
	b.pending = make(map[uint64]chan workerResponse)
	b.exited = make(chan struct{})

	readers := &sync.WaitGroup{}
	readers.Add(2)
	go b.readResults(stdout, readers)
	go b.logStderr(stderr, readers)
	go b.waitProcess(cmd, readers, b.exited)
	return nil
}

func (b *SubprocessBackend) roundTrip(ctx context.Context, req workerRequest) (workerResponse, error) {
	b.mu.Lock()
	if b.cmd == nil {
		b.mu.Unlock()
		return workerResponse{}, errWorkerExited
	}
	b.seq++
	req.Seq = b.seq
	ch := make(chan workerResponse, 1)
	b.pending[req.Seq] = ch
	stdin, exited := b.stdin, b.exited
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.Seq)
		b.mu.Unlock()
	}()

	if err := b.write(ctx, stdin, req); err != nil {
		return workerResponse{}, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-exited:
		return workerResponse{}, errWorkerExited
	case <-ctx.Done():
		return workerResponse{}, ctx.Err()
	}
}

func (b *SubprocessBackend) write(ctx context.Context, stdin io.Writer, req workerRequest) error {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack request: %w", err)
	}
	writeErr := make(chan error, 1)
	go func() {
		b.writeMu.Lock()
		defer b.writeMu.Unlock()
		lengthPrefix := make([]byte, 4)
		binary.BigEndian.PutUint32(lengthPrefix, uint32(len(payload)))
		if _, err := stdin.Write(lengthPrefix); err != nil {
			writeErr <- fmt.Errorf("failed to write length prefix: %w", err)
			return
		}
		if _, err := stdin.Write(payload); err != nil {
			writeErr <- fmt.Errorf("failed to write msgpack data: %w", err)
			return
		}
		writeErr <- nil
	}()

	timeout := b.WriteTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	select {
	case err := <-writeErr:
		return err
	case <-time.After(timeout):
		return errors.New("stdin write timeout (keypoint worker may be hung)")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *SubprocessBackend) readResults(stdout io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	r := bufio.NewReader(stdout)
	lengthBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, lengthBuf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				b.log.Debug("worker stdout closed", zap.Error(err))
			}
			return
		}
		payload := make([]byte, binary.BigEndian.Uint32(lengthBuf))
		if _, err := io.ReadFull(r, payload); err != nil {
			b.log.Error("failed to read msgpack data from keypoint worker", zap.Error(err))
			return
		}
		var resp workerResponse
		if err := msgpack.Unmarshal(payload, &resp); err != nil {
			b.log.Error("failed to unmarshal worker response", zap.Int("length", len(payload)), zap.Error(err))
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.Seq]
		b.mu.Unlock()
		if !ok {
			b.log.Debug("dropping late worker response", zap.Uint64("seq", resp.Seq))
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

func (b *SubprocessBackend) logStderr(stderr io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		b.log.Debug("keypoint worker log", zap.String("log", scanner.Text()))
	}
}

// waitProcess 管道读完后再 Wait，避免僵尸进程
func (b *SubprocessBackend) waitProcess(cmd *exec.Cmd, readers *sync.WaitGroup, exited chan struct{}) {
	readers.Wait()
	err := cmd.Wait()
	close(exited)
	if err != nil {
		b.log.Info("keypoint worker exited", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}
	b.mu.Lock()
	if b.cmd == cmd {
		b.cmd, b.stdin = nil, nil
	}
	b.mu.Unlock()
}
