// ABOUTME: gRPC TaskQueue server backed by the queue Service
// ABOUTME: Translates service errors into gRPC status codes

package queueserver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/mesh-manager/internal/queue"
	"github.com/2389/mesh-manager/internal/task"
)

// grpcServer implements queue.TaskQueueServer.
type grpcServer struct {
	queue.UnimplementedTaskQueueServer
	svc    *Service
	logger *slog.Logger
}

// NewGRPCServer wraps svc as a TaskQueue gRPC service.
func NewGRPCServer(svc *Service, logger *slog.Logger) queue.TaskQueueServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &grpcServer{svc: svc, logger: logger.With("component", "queue-grpc")}
}

func (g *grpcServer) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, queue.ErrMalformedRequest),
		errors.Is(err, ErrMissingAgentType),
		errors.Is(err, ErrMissingTaskID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		g.logger.Error("request failed", "method", method, "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func (g *grpcServer) Poll(ctx context.Context, req *queue.PollRequest) (*queue.PollResponse, error) {
	agentType := req.AgentID()
	if agentType == "" {
		return nil, status.Error(codes.InvalidArgument, "agent_info[0].agent_id is required")
	}
	t, err := g.svc.Poll(ctx, agentType)
	if err != nil {
		return nil, g.toStatus("Poll", err)
	}
	return queue.EncodeTask(t), nil
}

func (g *grpcServer) Submit(ctx context.Context, req *queue.SubmitRequest) (*queue.SubmitResponse, error) {
	o, err := req.Outcome()
	if err != nil {
		return nil, g.toStatus("Submit", err)
	}
	st, err := g.svc.Complete(ctx, o)
	if err != nil {
		return nil, g.toStatus("Submit", err)
	}
	return &queue.SubmitResponse{Status: st}, nil
}

func (g *grpcServer) PushUpdate(ctx context.Context, req *queue.UpdateRequest) (*queue.UpdateResponse, error) {
	if err := g.svc.PushUpdate(ctx, req.TaskID, req.Event(g.svc.now())); err != nil {
		return nil, g.toStatus("PushUpdate", err)
	}
	return &queue.UpdateResponse{Status: "ok"}, nil
}

func (g *grpcServer) CreateTask(ctx context.Context, req *queue.CreateTaskRequest) (*queue.CreateTaskResponse, error) {
	cr, err := req.CreateRequest()
	if err != nil {
		return nil, g.toStatus("CreateTask", err)
	}
	id, err := g.svc.CreateTask(ctx, cr)
	if err != nil {
		return nil, g.toStatus("CreateTask", err)
	}
	return &queue.CreateTaskResponse{TaskID: id}, nil
}

func (g *grpcServer) QueryTask(ctx context.Context, req *queue.QueryTaskRequest) (*queue.QueryTaskResponse, error) {
	rec, err := g.svc.QueryTask(ctx, req.TaskID)
	if err != nil {
		return nil, g.toStatus("QueryTask", err)
	}
	return queue.EncodeRecord(rec), nil
}
