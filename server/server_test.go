package server

import (
	"PoseAssessServer/analysis"
	"PoseAssessServer/assessment"
	"PoseAssessServer/engine"
	iface "PoseAssessServer/interface"
	"PoseAssessServer/pipeline"
	"PoseAssessServer/scoring"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockBackend struct {
	loadErr error
}

func (m *mockBackend) LoadModel(context.Context) error { return m.loadErr }

func (m *mockBackend) Detect(context.Context, iface.Frame) ([]iface.RawKeypoint, error) {
	kps := make([]iface.RawKeypoint, 17)
	for i := range kps {
		kps[i] = iface.RawKeypoint{X: 0.3 + float64(i)*0.02, Y: 0.1 + float64(i)*0.04, Score: 0.9}
	}
	return kps, nil
}

func (m *mockBackend) Destroy()                        {}
func (m *mockBackend) CheckConfig() iface.EngineConfig { return iface.EngineConfig{Backend: "mock"} }
func (m *mockBackend) SetInputSize(int)                {}

type stubEvaluator struct {
	mu  sync.Mutex
	got []iface.Keypoint
}

func (s *stubEvaluator) Evaluate(kps []iface.Keypoint, movementType string) scoring.Evaluation {
	s.mu.Lock()
	s.got = kps
	s.mu.Unlock()
	ev := scoring.Evaluation{
		Score:    0.75,
		Feedback: "good",
		Angles:   map[string]float64{"left_knee": 100},
		Details:  map[string]any{"movementType": movementType},
	}
	if movementType == "" {
		ev.Err = scoring.ErrUnknownMovementType
	}
	return ev
}

func (s *stubEvaluator) Movements() []string { return []string{"deep-squat", "shoulder-mobility"} }

func (s *stubEvaluator) keypoints() []iface.Keypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(_ context.Context, filename string, video io.Reader, movementType string) (*analysis.Response, error) {
	data, err := io.ReadAll(video)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	return &analysis.Response{
		Score:        0.8,
		Feedback:     filename,
		MovementType: movementType,
		Angles:       map[string]float64{},
		Details:      map[string]any{"size": len(data)},
		Timestamp:    time.Now(),
	}, nil
}

func newTestPool(t *testing.T, size int, loadErr error) *Pool {
	t.Helper()
	pool, err := NewPool(context.Background(), size, func() (iface.Backend, error) {
		return &mockBackend{loadErr: loadErr}, nil
	}, engine.Options{MaxAttempts: 1, InferTimeout: time.Second, SyntheticInterval: 20 * time.Millisecond, Seed: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Dispose)
	return pool
}

func newTestServer(t *testing.T, opts Options) (*Server, *stubEvaluator) {
	t.Helper()
	eval := &stubEvaluator{}
	if opts.Pool == nil {
		opts.Pool = newTestPool(t, 1, nil)
	}
	opts.Evaluator = eval
	if opts.Scheduler == nil {
		opts.Scheduler = func(movementType string) pipeline.SchedulerConfig {
			cfg := pipeline.DefaultSchedulerConfig()
			cfg.MovementType = movementType
			cfg.EvaluateEvery = 1
			return cfg
		}
	}
	opts.RefreshInterval = 5 * time.Millisecond
	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, eval
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestPool(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		pool := newTestPool(t, 2, nil)
		assert.Equal(t, 2, pool.Len())

		a, err := pool.Acquire("s1")
		require.NoError(t, err)
		b, err := pool.Acquire("s2")
		require.NoError(t, err)
		assert.NotEqual(t, a.ID(), b.ID())

		_, err = pool.Acquire("s3")
		assert.ErrorIs(t, err, ErrNoWorkers)

		busy := 0
		for _, info := range pool.Status() {
			assert.Equal(t, "READY", info.Estimator.State)
			if info.State == "BUSY" {
				busy++
				assert.Contains(t, []string{"s1", "s2"}, info.Owner)
			}
		}
		assert.Equal(t, 2, busy)

		require.True(t, a.estimator.Infer(context.Background(), iface.Frame{Seq: 1, Data: []byte{1}}).Success)
		_, ok := a.estimator.Last()
		require.True(t, ok)

		pool.Release(a)
		_, ok = a.estimator.Last()
		assert.False(t, ok, "released worker must not leak the previous session's keypoints")

		c, err := pool.Acquire("s3")
		require.NoError(t, err)
		assert.Equal(t, a.ID(), c.ID())
	})

	t.Run("failed model still serves synthetic keypoints", func(t *testing.T) {
		pool := newTestPool(t, 1, errors.New("model file missing"))
		status := pool.Status()
		require.Len(t, status, 1)
		assert.Equal(t, "FAILED_FALLBACK", status[0].Estimator.State)
		assert.Contains(t, status[0].Estimator.InitError, "model file missing")

		w, err := pool.Acquire("s1")
		require.NoError(t, err)
		ret := w.estimator.Infer(context.Background(), iface.Frame{Seq: 1, Data: []byte{1}})
		assert.Equal(t, iface.KindFallback, ret.Kind)
	})

	t.Run("cancelled init", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewPool(ctx, 1, func() (iface.Backend, error) {
			return &mockBackend{loadErr: errors.New("boom")}, nil
		}, engine.Options{MaxAttempts: 3})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBasicRoutes(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	h := s.Handler()

	w, body := doJSON(t, h, http.MethodGet, "/api/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", body["message"])

	w, body = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["workers"])
	assert.EqualValues(t, 1, body["idleWorkers"])
	assert.Equal(t, false, body["analyzer"])

	w, body = doJSON(t, h, http.MethodGet, "/api/movements", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"deep-squat", "shoulder-mobility"}, body["data"])

	w, body = doJSON(t, h, http.MethodGet, "/api/workers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grpc_requests_total")
}

func TestEvaluateRoute(t *testing.T) {
	s, eval := newTestServer(t, Options{})
	h := s.Handler()

	t.Run("named keypoints", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodPost, "/api/evaluate", map[string]any{
			"movementType": "deep-squat",
			"keypoints": []map[string]any{
				{"name": "nose", "x": 0.5, "y": 0.1, "score": 0.9},
				{"name": "right_eye", "x": 0.5, "y": 0.1, "score": 0.1},
			},
		})
		require.Equal(t, http.StatusOK, w.Code)
		data := body["data"].(map[string]any)
		assert.EqualValues(t, 75, data["percent"])
		assert.Equal(t, "good", data["feedback"])
		assert.NotContains(t, data, "warning")
		kps := eval.keypoints()
		require.Len(t, kps, 1)
		assert.Equal(t, "nose", kps[0].Name)
	})

	t.Run("raw arrays", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodPost, "/api/evaluate", map[string]any{
			"keypoints": [][]float64{{0.5, 0.1, 0.9}, {2, 0.1, 0.9}, {0.4, 0.1, 0.9}},
		})
		require.Equal(t, http.StatusOK, w.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, scoring.ErrUnknownMovementType.Error(), data["warning"])
		kps := eval.keypoints()
		require.Len(t, kps, 2)
		assert.Equal(t, "nose", kps[0].Name)
	})

	t.Run("invalid", func(t *testing.T) {
		w, _ := doJSON(t, h, http.MethodPost, "/api/evaluate", map[string]any{"keypoints": "nope"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w, _ = doJSON(t, h, http.MethodPost, "/api/evaluate", map[string]any{"movementType": "deep-squat"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAssessmentRoutes(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	h := s.Handler()

	w, body := doJSON(t, h, http.MethodPost, "/api/assessments", assessment.PrimaryData{
		MovementType:          "deep-squat",
		MovementName:          "Deep Squat",
		HipMobilityScore:      1,
		KneeStabilityScore:    3,
		ShoulderMobilityScore: 2,
		CoreActivationScore:   1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	id, _ := body["data"].(map[string]any)["id"].(string)
	require.NotEmpty(t, id)

	doJSON(t, h, http.MethodPost, "/api/assessments", assessment.PrimaryData{MovementType: "hurdle-step"})

	_, body = doJSON(t, h, http.MethodGet, "/api/assessments", nil)
	assert.Len(t, body["data"], 2)
	_, body = doJSON(t, h, http.MethodGet, "/api/assessments?movementType=deep-squat", nil)
	assert.Len(t, body["data"], 1)

	w, body = doJSON(t, h, http.MethodGet, "/api/assessments/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Deep Squat", body["data"].(map[string]any)["movementName"])

	_, body = doJSON(t, h, http.MethodGet, "/api/assessments/"+id+"/exercises", nil)
	assert.Contains(t, body["data"], "Hip flexion mobility drills")

	req := httptest.NewRequest(http.MethodGet, "/api/assessments/"+id+"/report", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "FMS Assessment Report")
	assert.Contains(t, rec.Body.String(), "Deep Squat")

	w, _ = doJSON(t, h, http.MethodDelete, "/api/assessments/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, h, http.MethodDelete, "/api/assessments/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = doJSON(t, h, http.MethodGet, "/api/assessments/"+id+"/report", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyzeRoute(t *testing.T) {
	upload := func(h http.Handler, content string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile("file", "squat.mp4")
		_, _ = fw.Write([]byte(content))
		_ = mw.WriteField("movementType", "deep-squat")
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("disabled", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})
		assert.Equal(t, http.StatusServiceUnavailable, upload(s.Handler(), "video").Code)
	})

	t.Run("stored in results", func(t *testing.T) {
		s, _ := newTestServer(t, Options{Analyzer: stubAnalyzer{}})
		h := s.Handler()
		rec := upload(h, "video-bytes")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp analysis.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "squat.mp4", resp.Feedback)
		assert.Equal(t, "deep-squat", resp.MovementType)

		assert.Equal(t, http.StatusInternalServerError, upload(h, "").Code)

		_, body := doJSON(t, h, http.MethodGet, "/api/results", nil)
		assert.Len(t, body["data"], 1)
	})

	t.Run("missing file", func(t *testing.T) {
		s, _ := newTestServer(t, Options{Analyzer: stubAnalyzer{}})
		w, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/analyze", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSessionAllocation(t *testing.T) {
	s, _ := newTestServer(t, Options{IdleTimeout: time.Hour})
	h := s.Handler()

	w, body := doJSON(t, h, http.MethodPost, "/api/sessions", map[string]any{"movementType": "deep-squat"})
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := body["sessionID"].(string)
	assert.NotEmpty(t, body["workerID"])
	assert.True(t, strings.HasSuffix(body["wsURL"].(string), "/ws/"+sessionID))
	assert.EqualValues(t, time.Hour.Milliseconds(), body["timeoutMs"])

	w, _ = doJSON(t, h, http.MethodPost, "/api/sessions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = doJSON(t, h, http.MethodPost, "/api/sessions/"+sessionID+"/release", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, h, http.MethodPost, "/api/sessions/"+sessionID+"/release", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, h, http.MethodPost, "/api/sessions", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, h, http.MethodGet, "/ws/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIdleSessionReleased(t *testing.T) {
	s, _ := newTestServer(t, Options{IdleTimeout: 50 * time.Millisecond})
	_, body := doJSON(t, s.Handler(), http.MethodPost, "/api/sessions", nil)
	require.NotEmpty(t, body["sessionID"])
	assert.Eventually(t, func() bool {
		_, ok := s.lookupSession(body["sessionID"].(string))
		return !ok && s.opts.Pool.Status()[0].State == "IDLE"
	}, 2*time.Second, 10*time.Millisecond)
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	defer mat.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	require.NoError(t, err)
	defer buf.Close()
	return bytes.Clone(buf.GetBytes())
}

func TestDecodeFrame(t *testing.T) {
	data := encodeJPEG(t, 64, 48)
	frame, err := decodeFrame(3, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), frame.Seq)
	assert.Equal(t, 64, frame.Width)
	assert.Equal(t, 48, frame.Height)

	raw, err := decodeBase64("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, data, raw)

	_, err = decodeFrame(4, []byte("not an image"))
	assert.Error(t, err)
}

func TestWebsocketSession(t *testing.T) {
	s, eval := newTestServer(t, Options{IdleTimeout: time.Minute})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", strings.NewReader(`{"movementType":"deep-squat"}`))
	require.NoError(t, err)
	var alloc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alloc))
	resp.Body.Close()

	conn, _, err := websocket.DefaultDialer.Dial(alloc["wsURL"].(string), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	readJSON := func() map[string]any {
		mt, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, mt)
		var m map[string]any
		require.NoError(t, json.Unmarshal(msg, &m))
		return m
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("%%%")))
	assert.Equal(t, "error", readJSON()["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"movement","movementType":"shoulder-mobility"}`)))
	assert.Equal(t, "shoulder-mobility", readJSON()["movementType"])

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, encodeJPEG(t, 64, 48)))

	var keypoints, evaluation map[string]any
	var overlay []byte
	for keypoints == nil || evaluation == nil || overlay == nil {
		mt, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		if mt == websocket.BinaryMessage {
			overlay = msg
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(msg, &m))
		switch m["type"] {
		case "keypoints":
			keypoints = m
		case "evaluation":
			evaluation = m
		}
	}
	assert.EqualValues(t, 64, keypoints["width"])
	assert.EqualValues(t, 48, keypoints["height"])
	assert.Equal(t, "ok", keypoints["kind"])
	assert.Len(t, keypoints["keypoints"], 17)
	assert.Equal(t, "shoulder-mobility", evaluation["movementType"])
	assert.EqualValues(t, 75, evaluation["percent"])
	assert.Len(t, eval.keypoints(), 17)
	assert.Equal(t, []byte("\x89PNG"), overlay[:4])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool {
		return s.opts.Pool.Status()[0].State == "IDLE"
	}, 2*time.Second, 10*time.Millisecond)
}
