package proto

import (
	"PoseAssessServer/assessment"
	"PoseAssessServer/history"
	iface "PoseAssessServer/interface"
	"PoseAssessServer/scoring"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubEvaluator struct {
	gotKeypoints []iface.Keypoint
	gotMovement  string
}

func (s *stubEvaluator) Evaluate(kps []iface.Keypoint, movementType string) scoring.Evaluation {
	s.gotKeypoints, s.gotMovement = kps, movementType
	return scoring.Evaluation{
		Score:    0.9,
		Feedback: "ok",
		Angles:   map[string]float64{"left_knee": 95},
		Details:  map[string]any{"avgKneeAngle": 95.0},
	}
}

func startTestServer(t *testing.T, deps Deps) (*Server, *AssessServiceClient) {
	t.Helper()
	svc := NewServer(deps)
	srv, addr, err := StartGRPCServer(0, svc)
	require.NoError(t, err)
	t.Cleanup(srv.GracefulStop)

	conn, err := grpc.NewClient(addr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return svc, NewAssessServiceClient(conn)
}

func TestAssessService(t *testing.T) {
	eval := &stubEvaluator{}
	store := history.NewAssessmentStore(0)
	svc, client := startTestServer(t, Deps{
		Evaluator: eval,
		Store:     store,
		Status: func() any {
			return []map[string]any{{"id": "w1", "state": "READY", "busy": false}}
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("Evaluate", func(t *testing.T) {
		req, err := structpb.NewStruct(map[string]any{
			"movementType": scoring.DeepSquatID,
			"keypoints": []any{
				[]any{0.5, 0.1, 0.9},
				[]any{0.4, 0.1, 0.1},
				map[string]any{"x": 0.6, "y": 0.1, "score": 0.8},
			},
		})
		require.NoError(t, err)
		resp, err := client.Evaluate(ctx, req)
		require.NoError(t, err)

		m := resp.AsMap()
		assert.Equal(t, 0.9, m["score"])
		assert.Equal(t, 90.0, m["percent"])
		assert.Equal(t, 95.0, m["angles"].(map[string]any)["left_knee"])
		assert.Len(t, m["keypoints"], 2)

		assert.Equal(t, scoring.DeepSquatID, eval.gotMovement)
		require.Len(t, eval.gotKeypoints, 2)
		assert.Equal(t, "nose", eval.gotKeypoints[0].Name)
		assert.Equal(t, "right_eye", eval.gotKeypoints[1].Name)
	})

	t.Run("Evaluate rejects missing keypoints", func(t *testing.T) {
		req, _ := structpb.NewStruct(map[string]any{"movementType": "deep-squat"})
		_, err := client.Evaluate(ctx, req)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("Aggregate", func(t *testing.T) {
		req, err := structpb.NewStruct(map[string]any{
			"movementType":           "deep-squat",
			"movementName":           "Deep Squat",
			"hipMobilityScore":       1,
			"kneeStabilityScore":     3,
			"shoulderMobilityScore":  2,
			"coreActivationScore":    2,
			"posturalAlignmentScore": 3,
			"leftSideScores":         map[string]any{"hip": 2},
			"rightSideScores":        map[string]any{"hip": 0},
		})
		require.NoError(t, err)
		resp, err := client.Aggregate(ctx, req)
		require.NoError(t, err)

		var a assessment.Assessment
		require.NoError(t, fromStruct(resp, &a))
		assert.Equal(t, "FMS", a.Type)
		assert.True(t, a.AsymmetryDetected)
		assert.Equal(t, 11.0, a.OverallScore.Value)
		assert.LessOrEqual(t, len(a.Recommendations), 5)

		stored, ok := store.GetByID(a.ID)
		require.True(t, ok)
		assert.Equal(t, "Deep Squat", stored.MovementName)
	})

	t.Run("EstimatorStatus", func(t *testing.T) {
		resp, err := client.EstimatorStatus(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		workers := resp.AsMap()["workers"].([]any)
		require.Len(t, workers, 1)
		assert.Equal(t, "READY", workers[0].(map[string]any)["state"])
	})

	t.Run("Shutdown", func(t *testing.T) {
		_, err := client.Shutdown(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		_, err = client.Shutdown(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		select {
		case <-svc.Done():
		case <-time.After(time.Second):
			t.Fatal("shutdown not signalled")
		}
	})
}
