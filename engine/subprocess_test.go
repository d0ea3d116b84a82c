package engine

import (
	iface "PoseAssessServer/interface"
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// TestHelperProcess 充当关键点子进程，只在 GO_WANT_HELPER_PROCESS=1 时运行
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	in := bufio.NewReader(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	lengthBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(in, lengthBuf); err != nil {
			os.Exit(0)
		}
		payload := make([]byte, binary.BigEndian.Uint32(lengthBuf))
		if _, err := io.ReadFull(in, payload); err != nil {
			os.Exit(1)
		}
		var req workerRequest
		if err := msgpack.Unmarshal(payload, &req); err != nil {
			os.Exit(2)
		}
		resp := workerResponse{Seq: req.Seq, OK: true}
		switch req.Op {
		case opLoad:
			if req.Model != "pose.onnx" {
				resp.OK, resp.Error = false, "model not found"
			}
		case opDetect:
			if string(req.FrameData) == "hang" {
				continue
			}
			kps := make([]any, 17)
			for i := range kps {
				kps[i] = []any{0.5, float64(i) / 20, 0.9}
			}
			resp.Keypoints = kps
		}
		data, _ := msgpack.Marshal(resp)
		binary.BigEndian.PutUint32(lengthBuf, uint32(len(data)))
		out.Write(lengthBuf)
		out.Write(data)
		out.Flush()
	}
}

func helperBackend(t *testing.T, model string) *SubprocessBackend {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	return NewSubprocessBackend(os.Args[0], []string{"-test.run=TestHelperProcess"}, model, 0)
}

func TestSubprocessBackend(t *testing.T) {
	b := helperBackend(t, "pose.onnx")
	defer b.Destroy()

	require.NoError(t, b.LoadModel(context.Background()))
	kps, err := b.Detect(context.Background(), iface.Frame{Data: []byte("jpeg"), Width: 4, Height: 4})
	require.NoError(t, err)
	require.Len(t, kps, 17)
	assert.Equal(t, iface.RawKeypoint{X: 0.5, Y: 0.1, Score: 0.9}, kps[2])

	t.Run("late response is dropped", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := b.Detect(ctx, iface.Frame{Data: []byte("hang")})
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		kps, err := b.Detect(context.Background(), iface.Frame{Data: []byte("jpeg")})
		require.NoError(t, err)
		assert.Len(t, kps, 17)
	})

	b.Destroy()
	_, err = b.Detect(context.Background(), iface.Frame{Data: []byte("jpeg")})
	assert.ErrorIs(t, err, errWorkerExited)
}

func TestSubprocessBackend_LoadRejected(t *testing.T) {
	b := helperBackend(t, "missing.onnx")
	defer b.Destroy()

	err := b.LoadModel(context.Background())
	assert.ErrorContains(t, err, "model not found")

	e, _ := newTestEstimator(b, Options{SyntheticInterval: 50 * time.Millisecond})
	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, FAILED_FALLBACK, e.State())
	e.Dispose()
}

func TestSubprocessBackend_NoCommand(t *testing.T) {
	b := NewSubprocessBackend("", nil, "pose.onnx", 0)
	assert.Error(t, b.LoadModel(context.Background()))
	b.Destroy()
}
