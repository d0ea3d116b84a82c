package engine

import (
	iface "PoseAssessServer/interface"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	loadErrs   []error
	loadCalls  atomic.Int32
	detect     func(ctx context.Context, frame iface.Frame) ([]iface.RawKeypoint, error)
	destroyed  atomic.Int32
	inputSize  int
	concurrent atomic.Int32
	peak       atomic.Int32
}

func (m *mockBackend) LoadModel(context.Context) error {
	n := int(m.loadCalls.Add(1))
	if n <= len(m.loadErrs) {
		return m.loadErrs[n-1]
	}
	return nil
}

func (m *mockBackend) Detect(ctx context.Context, frame iface.Frame) ([]iface.RawKeypoint, error) {
	cur := m.concurrent.Add(1)
	defer m.concurrent.Add(-1)
	for {
		p := m.peak.Load()
		if cur <= p || m.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if m.detect != nil {
		return m.detect(ctx, frame)
	}
	return []iface.RawKeypoint{{X: 0.5, Y: 0.5, Score: 0.9}}, nil
}

func (m *mockBackend) Destroy()                        { m.destroyed.Add(1) }
func (m *mockBackend) CheckConfig() iface.EngineConfig { return iface.EngineConfig{Backend: "mock"} }
func (m *mockBackend) SetInputSize(size int)           { m.inputSize = size }

func newTestEstimator(b iface.Backend, opts Options) (*Estimator, *[]time.Duration) {
	var waits []time.Duration
	e := NewEstimator(b, opts)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return e, &waits
}

var frame = iface.Frame{Seq: 1, Width: 4, Height: 4, Data: []byte{1, 2, 3}}

func TestEstimator_Fallback(t *testing.T) {
	boom := errors.New("no model")
	b := &mockBackend{loadErrs: []error{boom, boom, boom}}
	e, waits := newTestEstimator(b, Options{SyntheticInterval: 20 * time.Millisecond, Seed: 42})
	defer e.Dispose()

	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, FAILED_FALLBACK, e.State())
	assert.Equal(t, int32(3), b.loadCalls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)

	err := e.LastInitError()
	assert.ErrorIs(t, err, ErrModelInit)
	assert.ErrorIs(t, err, boom)
	var initErr *ModelInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, 3, initErr.Attempt)

	for i := 0; i < 5; i++ {
		ret := e.Infer(context.Background(), iface.Frame{})
		assert.True(t, ret.Success)
		assert.Equal(t, iface.KindFallback, ret.Kind)
		require.Len(t, ret.Keypoints, 17)
		for _, kp := range ret.Keypoints {
			assert.True(t, kp.X >= 0 && kp.X <= 1)
			assert.True(t, kp.Y >= 0 && kp.Y <= 1)
		}
	}

	select {
	case kps := <-e.Synthetic():
		assert.Len(t, kps, 17)
	case <-time.After(time.Second):
		t.Fatal("no synthetic skeleton published")
	}

	st := e.Status()
	assert.Equal(t, "FAILED_FALLBACK", st.State)
	assert.Equal(t, "mock", st.Backend)
	assert.Contains(t, st.InitError, "no model")

	t.Run("initialize again is a no-op", func(t *testing.T) {
		require.NoError(t, e.Initialize(context.Background()))
		assert.Equal(t, int32(3), b.loadCalls.Load())
	})
}

func TestEstimator_RetryThenReady(t *testing.T) {
	b := &mockBackend{loadErrs: []error{errors.New("busy device")}}
	e, waits := newTestEstimator(b, Options{})
	defer e.Dispose()

	assert.Equal(t, iface.KindNotReady, e.Infer(context.Background(), frame).Kind)

	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, READY, e.State())
	assert.Equal(t, []time.Duration{2 * time.Second}, *waits)
	assert.NoError(t, e.LastInitError())

	ret := e.Infer(context.Background(), frame)
	assert.True(t, ret.Success)
	assert.Equal(t, iface.KindOK, ret.Kind)
	assert.Len(t, ret.Keypoints, 1)
	last, ok := e.Last()
	require.True(t, ok)
	assert.Equal(t, ret.Keypoints, last.Keypoints)

	e.Reset()
	_, ok = e.Last()
	assert.False(t, ok)
	assert.Equal(t, READY, e.State())
}

func TestEstimator_InitializeCancelled(t *testing.T) {
	b := &mockBackend{loadErrs: []error{errors.New("x"), errors.New("y"), errors.New("z")}}
	e := NewEstimator(b, Options{BackoffBase: time.Hour})
	defer e.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := e.Initialize(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, UNINITIALIZED, e.State())
}

func TestEstimator_Timeout(t *testing.T) {
	release := make(chan struct{})
	b := &mockBackend{detect: func(ctx context.Context, frame iface.Frame) ([]iface.RawKeypoint, error) {
		<-release
		return nil, nil
	}}
	e, _ := newTestEstimator(b, Options{InferTimeout: 30 * time.Millisecond})
	defer e.Dispose()
	require.NoError(t, e.Initialize(context.Background()))

	start := time.Now()
	ret := e.Infer(context.Background(), frame)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, ret.Success)
	assert.Equal(t, iface.KindTimeout, ret.Kind)
	assert.ErrorIs(t, ret.Err, ErrInferenceTimeout)
	assert.NotNil(t, ret.Keypoints)
	assert.Empty(t, ret.Keypoints)

	// 后端仍未返回，第二次调用不能并发进入后端
	assert.True(t, e.InFlight())
	assert.Equal(t, iface.KindBusy, e.Infer(context.Background(), frame).Kind)

	close(release)
	assert.Eventually(t, func() bool { return !e.InFlight() }, time.Second, 5*time.Millisecond)
}

func TestEstimator_NonReentrant(t *testing.T) {
	b := &mockBackend{detect: func(ctx context.Context, frame iface.Frame) ([]iface.RawKeypoint, error) {
		time.Sleep(20 * time.Millisecond)
		return []iface.RawKeypoint{{X: 0.1, Y: 0.1, Score: 0.5}}, nil
	}}
	e, _ := newTestEstimator(b, Options{})
	defer e.Dispose()
	require.NoError(t, e.Initialize(context.Background()))

	var wg sync.WaitGroup
	var busy atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Infer(context.Background(), frame).Kind == iface.KindBusy {
				busy.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), b.peak.Load())
	assert.Positive(t, busy.Load())
}

func TestEstimator_BackendErrorAndPanic(t *testing.T) {
	calls := 0
	b := &mockBackend{detect: func(ctx context.Context, frame iface.Frame) ([]iface.RawKeypoint, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("bad frame")
		}
		panic("native crash")
	}}
	e, _ := newTestEstimator(b, Options{})
	defer e.Dispose()
	require.NoError(t, e.Initialize(context.Background()))

	ret := e.Infer(context.Background(), frame)
	assert.Equal(t, iface.KindBackendError, ret.Kind)
	ret = e.Infer(context.Background(), frame)
	assert.Equal(t, iface.KindBackendError, ret.Kind)
	assert.Contains(t, ret.Err.Error(), "native crash")
	assert.False(t, e.InFlight())
}

func TestEstimator_Dispose(t *testing.T) {
	b := &mockBackend{loadErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	e, _ := newTestEstimator(b, Options{SyntheticInterval: 10 * time.Millisecond})
	require.NoError(t, e.Initialize(context.Background()))

	e.Dispose()
	e.Dispose()
	assert.Equal(t, int32(1), b.destroyed.Load())
	assert.Equal(t, DISPOSED, e.State())
	assert.Equal(t, iface.KindNotReady, e.Infer(context.Background(), frame).Kind)
	assert.ErrorIs(t, e.Initialize(context.Background()), ErrNotReady)
}

func TestUnavailableBackend(t *testing.T) {
	b, err := NewBackend(BackendConfig{Backend: "unavailable"})
	require.NoError(t, err)
	e, _ := newTestEstimator(b, Options{})
	defer e.Dispose()
	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, FAILED_FALLBACK, e.State())
	assert.ErrorIs(t, e.LastInitError(), ErrBackendUnavailable)

	_, err = NewBackend(BackendConfig{Backend: "onnx"})
	assert.Error(t, err)
}

func TestHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/keypoints":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			f, _, err := r.FormFile("file")
			require.NoError(t, err)
			f.Close()
			assert.Equal(t, "4", r.FormValue("width"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":   true,
				"keypoints": [][]float64{{0.5, 0.4, 0.9}, {0.2, 0.3, 0.1}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, "pose.onnx", 0, time.Second)
	require.NoError(t, b.LoadModel(context.Background()))
	kps, err := b.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, kps, 2)
	assert.Equal(t, iface.RawKeypoint{X: 0.5, Y: 0.4, Score: 0.9}, kps[0])

	_, err = b.Detect(context.Background(), iface.Frame{})
	assert.ErrorIs(t, err, ErrEmptyFrame)

	down := NewHTTPBackend("http://127.0.0.1:1", "", 0, 100*time.Millisecond)
	assert.Error(t, down.LoadModel(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "FAILED_FALLBACK", FAILED_FALLBACK.String())
	assert.Equal(t, 0x0001, int(UNINITIALIZED))
}
