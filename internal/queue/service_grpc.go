// ABOUTME: Hand-written gRPC service definition for the task queue using a JSON codec.
// ABOUTME: Messages are the same wire structs the HTTP transport uses; no protoc step.

package queue

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// CodecName is the gRPC content subtype selecting the JSON codec.
const CodecName = "json"

func init() {
	// Registered process-wide; only calls with CallContentSubtype("json") use it.
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// Full method names.
const (
	TaskQueue_Poll_FullMethodName       = "/mesh.queue.v1.TaskQueue/Poll"
	TaskQueue_Submit_FullMethodName     = "/mesh.queue.v1.TaskQueue/Submit"
	TaskQueue_PushUpdate_FullMethodName = "/mesh.queue.v1.TaskQueue/PushUpdate"
	TaskQueue_CreateTask_FullMethodName = "/mesh.queue.v1.TaskQueue/CreateTask"
	TaskQueue_QueryTask_FullMethodName  = "/mesh.queue.v1.TaskQueue/QueryTask"
)

// TaskQueueClient is the client API for TaskQueue.
type TaskQueueClient interface {
	Poll(ctx context.Context, in *PollRequest, opts ...grpc.CallOption) (*PollResponse, error)
	Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error)
	PushUpdate(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*UpdateResponse, error)
	CreateTask(ctx context.Context, in *CreateTaskRequest, opts ...grpc.CallOption) (*CreateTaskResponse, error)
	QueryTask(ctx context.Context, in *QueryTaskRequest, opts ...grpc.CallOption) (*QueryTaskResponse, error)
}

type taskQueueClient struct {
	cc grpc.ClientConnInterface
}

// NewTaskQueueClient creates a TaskQueueClient on cc.
func NewTaskQueueClient(cc grpc.ClientConnInterface) TaskQueueClient {
	return &taskQueueClient{cc}
}

func (c *taskQueueClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *taskQueueClient) Poll(ctx context.Context, in *PollRequest, opts ...grpc.CallOption) (*PollResponse, error) {
	out := new(PollResponse)
	if err := c.invoke(ctx, TaskQueue_Poll_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskQueueClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	if err := c.invoke(ctx, TaskQueue_Submit_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskQueueClient) PushUpdate(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*UpdateResponse, error) {
	out := new(UpdateResponse)
	if err := c.invoke(ctx, TaskQueue_PushUpdate_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskQueueClient) CreateTask(ctx context.Context, in *CreateTaskRequest, opts ...grpc.CallOption) (*CreateTaskResponse, error) {
	out := new(CreateTaskResponse)
	if err := c.invoke(ctx, TaskQueue_CreateTask_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *taskQueueClient) QueryTask(ctx context.Context, in *QueryTaskRequest, opts ...grpc.CallOption) (*QueryTaskResponse, error) {
	out := new(QueryTaskResponse)
	if err := c.invoke(ctx, TaskQueue_QueryTask_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// TaskQueueServer is the server API for TaskQueue.
type TaskQueueServer interface {
	Poll(context.Context, *PollRequest) (*PollResponse, error)
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	PushUpdate(context.Context, *UpdateRequest) (*UpdateResponse, error)
	CreateTask(context.Context, *CreateTaskRequest) (*CreateTaskResponse, error)
	QueryTask(context.Context, *QueryTaskRequest) (*QueryTaskResponse, error)
	mustEmbedUnimplementedTaskQueueServer()
}

// UnimplementedTaskQueueServer provides default implementations.
type UnimplementedTaskQueueServer struct{}

func (UnimplementedTaskQueueServer) Poll(context.Context, *PollRequest) (*PollResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Poll not implemented")
}
func (UnimplementedTaskQueueServer) Submit(context.Context, *SubmitRequest) (*SubmitResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Submit not implemented")
}
func (UnimplementedTaskQueueServer) PushUpdate(context.Context, *UpdateRequest) (*UpdateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PushUpdate not implemented")
}
func (UnimplementedTaskQueueServer) CreateTask(context.Context, *CreateTaskRequest) (*CreateTaskResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateTask not implemented")
}
func (UnimplementedTaskQueueServer) QueryTask(context.Context, *QueryTaskRequest) (*QueryTaskResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method QueryTask not implemented")
}
func (UnimplementedTaskQueueServer) mustEmbedUnimplementedTaskQueueServer() {}

// RegisterTaskQueueServer registers srv with a gRPC server.
func RegisterTaskQueueServer(s grpc.ServiceRegistrar, srv TaskQueueServer) {
	s.RegisterService(&TaskQueue_ServiceDesc, srv)
}

// unaryHandler builds a grpc.MethodDesc handler for one method.
func unaryHandler[Req any, Resp any](fullMethod string, call func(TaskQueueServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TaskQueueServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TaskQueueServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// TaskQueue_ServiceDesc is the grpc.ServiceDesc for TaskQueue.
var TaskQueue_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "mesh.queue.v1.TaskQueue",
	HandlerType: (*TaskQueueServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Poll",
			Handler:    unaryHandler(TaskQueue_Poll_FullMethodName, TaskQueueServer.Poll),
		},
		{
			MethodName: "Submit",
			Handler:    unaryHandler(TaskQueue_Submit_FullMethodName, TaskQueueServer.Submit),
		},
		{
			MethodName: "PushUpdate",
			Handler:    unaryHandler(TaskQueue_PushUpdate_FullMethodName, TaskQueueServer.PushUpdate),
		},
		{
			MethodName: "CreateTask",
			Handler:    unaryHandler(TaskQueue_CreateTask_FullMethodName, TaskQueueServer.CreateTask),
		},
		{
			MethodName: "QueryTask",
			Handler:    unaryHandler(TaskQueue_QueryTask_FullMethodName, TaskQueueServer.QueryTask),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mesh/queue/v1/queue.proto",
}
