package analysis

import (
	"PoseAssessServer/assessment"
	"PoseAssessServer/geometry"
	iface "PoseAssessServer/interface"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/logger"
	"PoseAssessServer/pipeline"
	"PoseAssessServer/render"
	"PoseAssessServer/scoring"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var ErrNoFrames = errors.New("video contains no decodable frames")

type VideoConfig struct {
	SampleEvery int
	MaxFrames   int
	Style       render.Style
	Validator   keypoint.Validator
}

func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		SampleEvery: 5,
		MaxFrames:   60,
		Style:       render.DefaultStyle(),
		Validator:   keypoint.NewValidator(),
	}
}

// VideoAnalyzer 本地解码视频，逐个采样帧做关键点检测与评分，取得分最高的一帧作为结果
type VideoAnalyzer struct {
	inferer   pipeline.Inferer
	evaluator pipeline.Evaluator
	cfg       VideoConfig
	progress  ProgressFunc
	log       *zap.Logger
}

func NewVideoAnalyzer(inferer pipeline.Inferer, evaluator pipeline.Evaluator, cfg VideoConfig) *VideoAnalyzer {
	d := DefaultVideoConfig()
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = d.SampleEvery
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = d.MaxFrames
	}
	if cfg.Validator.Threshold == 0 && len(cfg.Validator.Names) == 0 {
		cfg.Validator = d.Validator
	}
	if cfg.Style.LineWidth == 0 {
		cfg.Style = d.Style
	}
	return &VideoAnalyzer{
		inferer:   inferer,
		evaluator: evaluator,
		cfg:       cfg,
		log:       logger.Named("video-analyzer"),
	}
}

// OnProgress 设置进度回调，返回自身便于链式调用
func (v *VideoAnalyzer) OnProgress(fn ProgressFunc) *VideoAnalyzer {
	v.progress = fn
	return v
}

// Analyze 上传内容先落盘，gocv 只能从文件或设备读取视频
func (v *VideoAnalyzer) Analyze(ctx context.Context, filename string, video io.Reader, movementType string) (*Response, error) {
	tmp, err := os.CreateTemp("", "pose-upload-*"+filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, video); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	return v.AnalyzeFile(ctx, tmp.Name(), movementType)
}

type sample struct {
	index      int
	keypoints  []iface.Keypoint
	evaluation scoring.Evaluation
	frame      gocv.Mat
}

func (v *VideoAnalyzer) AnalyzeFile(ctx context.Context, path, movementType string) (*Response, error) {
	start := time.Now()
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	defer capture.Close()

	total := int(capture.Get(gocv.VideoCaptureFrameCount)) / v.cfg.SampleEvery
	if total > v.cfg.MaxFrames || total < 0 {
		total = v.cfg.MaxFrames
	}

	img := gocv.NewMat()
	defer img.Close()
	var (
		best    *sample
		read    int
		sampled int
		dropped int
	)
	defer func() {
		if best != nil {
			best.frame.Close()
		}
	}()

	for sampled < v.cfg.MaxFrames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ok := capture.Read(&img); !ok || img.Empty() {
			break
		}
		read++
		if (read-1)%v.cfg.SampleEvery != 0 {
			continue
		}
		sampled++
		s, n := v.inspect(ctx, img, read-1, movementType)
		dropped += n
		if s != nil && (best == nil || s.evaluation.Score > best.evaluation.Score) {
			if best != nil {
				best.frame.Close()
			}
			s.frame = img.Clone()
			best = s
		}
		if v.progress != nil {
			v.progress(sampled, total)
		}
	}
	if read == 0 {
		return nil, ErrNoFrames
	}
	v.log.Info("video analyzed",
		zap.String("movementType", movementType),
		zap.Int("frames", read),
		zap.Int("sampled", sampled),
		zap.Int("dropped", dropped),
		zap.Duration("elapsed", time.Since(start)))

	resp := &Response{
		Timestamp:    time.Now().UTC(),
		MovementType: movementType,
		Keypoints:    []iface.Keypoint{},
		Angles:       map[string]float64{},
		Details: map[string]any{
			"framesRead":    read,
			"framesSampled": sampled,
		},
	}
	if best == nil {
		neutral := scoring.Neutral()
		resp.Score = neutral.Score
		resp.Feedback = neutral.Feedback
		resp.Reason = "no person detected in the sampled frames"
		resp.ProcessingTime = processingTime(time.Since(start))
		return resp, nil
	}

	ev := best.evaluation
	resp.Score = ev.Score
	resp.Feedback = ev.Feedback
	resp.Reason = assessment.NewScore(ev.Score, 1).Feedback
	resp.KeypointsDetected = true
	resp.Keypoints = best.keypoints
	resp.Angles = geometry.MeasureAll(keypoint.NewSet(best.keypoints))
	for k, a := range ev.Angles {
		resp.Angles[k] = a
	}
	for k, d := range ev.Details {
		resp.Details[k] = d
	}
	resp.Details["bestFrame"] = best.index
	if ev.Err != nil {
		resp.Details["warning"] = ev.Err.Error()
	}
	if img, err := v.annotate(best); err != nil {
		v.log.Warn("failed to annotate frame", zap.Error(err))
	} else {
		resp.AnnotatedImage = img
	}
	resp.ProcessingTime = processingTime(time.Since(start))
	return resp, nil
}

// inspect 对单帧推理并评分，没有可用关键点时返回 nil
func (v *VideoAnalyzer) inspect(ctx context.Context, img gocv.Mat, index int, movementType string) (*sample, int) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		v.log.Debug("failed to encode frame", zap.Int("frame", index), zap.Error(err))
		return nil, 0
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	ret := v.inferer.Infer(ctx, iface.Frame{
		Seq:       uint64(index + 1),
		Width:     img.Cols(),
		Height:    img.Rows(),
		Data:      data,
		Timestamp: time.Now(),
	})
	switch ret.Kind {
	case iface.KindOK, iface.KindFallback:
	default:
		v.log.Debug("frame skipped", zap.Int("frame", index), zap.Stringer("kind", ret.Kind), zap.Error(ret.Err))
		return nil, 0
	}
	kps, dropped := v.cfg.Validator.Validate(ret.Keypoints)
	if len(kps) == 0 {
		return nil, dropped
	}
	return &sample{
		index:      index,
		keypoints:  kps,
		evaluation: v.evaluator.Evaluate(kps, movementType),
	}, dropped
}

func (v *VideoAnalyzer) annotate(s *sample) (string, error) {
	canvas := render.NewMatCanvasFrom(s.frame)
	defer canvas.Close()
	w, h := canvas.Size()
	render.NewRenderer(canvas, v.cfg.Style).Render(pipeline.Snapshot{
		Keypoints: s.keypoints,
		Width:     w,
		Height:    h,
	})
	data, err := canvas.JPEG()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
