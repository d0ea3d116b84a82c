package proto

import (
	"PoseAssessServer/assessment"
	"PoseAssessServer/emitter"
	"PoseAssessServer/history"
	"PoseAssessServer/keypoint"
	"PoseAssessServer/logger"
	"PoseAssessServer/monitor"
	"PoseAssessServer/pipeline"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Deps 服务依赖，由 main 注入
type Deps struct {
	Evaluator  pipeline.Evaluator
	Validator  keypoint.Validator
	Aggregator *assessment.Aggregator
	Store      *history.AssessmentStore
	Publisher  emitter.Publisher
	// Status 返回估计器池的状态，序列化为 JSON 对象
	Status func() any
}

type Server struct {
	deps      Deps
	closeOnce sync.Once
	closed    chan struct{}
	log       *zap.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Publisher == nil {
		deps.Publisher = emitter.Nop{}
	}
	if deps.Aggregator == nil {
		deps.Aggregator = assessment.NewAggregator()
	}
	if deps.Validator.Names == nil {
		deps.Validator = keypoint.NewValidator()
	}
	return &Server{
		deps:   deps,
		closed: make(chan struct{}),
		log:    logger.Named("grpc"),
	}
}

// Done Shutdown 被调用后关闭
func (s *Server) Done() <-chan struct{} {
	return s.closed
}

// toStruct 经 JSON 转换，字段名与 HTTP 接口一致
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Evaluate 请求 {movementType, keypoints: [[x,y,score], ...]}，关键点按模型输出顺序
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	fields := req.AsMap()
	movementType, _ := fields["movementType"].(string)
	raw, ok := fields["keypoints"].([]any)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "keypoints must be a list")
	}
	kps, dropped := s.deps.Validator.Validate(keypoint.DecodeRaw(raw))
	if dropped > 0 {
		monitor.KeypointsDropped.Add(float64(dropped))
	}
	ev := s.deps.Evaluator.Evaluate(kps, movementType)
	out := map[string]any{
		"movementType": movementType,
		"score":        ev.Score,
		"percent":      ev.Percent(),
		"feedback":     ev.Feedback,
		"angles":       ev.Angles,
		"details":      ev.Details,
		"keypoints":    kps,
	}
	if ev.Err != nil {
		out["warning"] = ev.Err.Error()
	}
	resp, err := toStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode evaluation: %v", err)
	}
	return resp, nil
}

// Aggregate 请求为 PrimaryData，结果写入历史并推送
func (s *Server) Aggregate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	var data assessment.PrimaryData
	if err := fromStruct(req, &data); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid primary data: %v", err)
	}
	a := s.deps.Aggregator.Process(data)
	monitor.AssessmentsTotal.Inc()
	if s.deps.Store != nil {
		s.deps.Store.Save(a)
	}
	if err := s.deps.Publisher.PublishAssessment(a); err != nil {
		s.log.Debug("assessment not published", zap.String("id", a.ID), zap.Error(err))
	}
	s.log.Info("assessment aggregated", zap.String("id", a.ID), zap.String("movementType", a.MovementType), zap.Float64("overall", a.OverallScore.Value))
	resp, err := toStruct(a)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode assessment: %v", err)
	}
	return resp, nil
}

func (s *Server) EstimatorStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	var workers any = []any{}
	if s.deps.Status != nil {
		workers = s.deps.Status()
	}
	resp, err := toStruct(map[string]any{"workers": workers})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode status: %v", err)
	}
	return resp, nil
}

// Shutdown 通知进程退出，实际的资源释放由 main 完成
func (s *Server) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	s.closeOnce.Do(func() {
		s.log.Warn("shutdown requested over gRPC")
		close(s.closed)
	})
	return &emptypb.Empty{}, nil
}

// StartGRPCServer 监听 port（0 表示随机端口）并在后台提供服务
func StartGRPCServer(port int, svc *Server) (*grpc.Server, net.Addr, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	s := grpc.NewServer()
	RegisterAssessServiceServer(s, svc)
	go func() {
		svc.log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil {
			svc.log.Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s, lis.Addr(), nil
}
