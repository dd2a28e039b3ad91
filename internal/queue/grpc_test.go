// ABOUTME: Tests for the gRPC queue client over an in-memory bufconn listener.
// ABOUTME: A small fake TaskQueueServer checks metadata, codec, and status mapping.

package queue

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/mesh-manager/internal/task"
)

type fakeQueueServer struct {
	UnimplementedTaskQueueServer

	mu        sync.Mutex
	authSeen  []string
	submitted []*SubmitRequest
	updates   []*UpdateRequest
}

func (f *fakeQueueServer) recordAuth(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authSeen = append(f.authSeen, md.Get("authorization")...)
}

func (f *fakeQueueServer) Poll(ctx context.Context, in *PollRequest) (*PollResponse, error) {
	f.recordAuth(ctx)
	if in.AgentID() == "Idle" {
		return &PollResponse{}, nil
	}
	return &PollResponse{TaskID: "t1", Input: map[string]any{"query": "hi"}, OriginTaskID: "root"}, nil
}

func (f *fakeQueueServer) Submit(_ context.Context, in *SubmitRequest) (*SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, in)
	return &SubmitResponse{Status: SubmitAccepted}, nil
}

func (f *fakeQueueServer) PushUpdate(_ context.Context, in *UpdateRequest) (*UpdateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	return &UpdateResponse{Status: "ok"}, nil
}

func (f *fakeQueueServer) CreateTask(_ context.Context, in *CreateTaskRequest) (*CreateTaskResponse, error) {
	return &CreateTaskResponse{TaskID: "child-of-" + in.OriginTaskID}, nil
}

func (f *fakeQueueServer) QueryTask(_ context.Context, in *QueryTaskRequest) (*QueryTaskResponse, error) {
	if in.TaskID == "missing" {
		return nil, status.Error(codes.NotFound, "task not found")
	}
	return &QueryTaskResponse{TaskID: in.TaskID, Status: "running"}, nil
}

func startBufconn(t *testing.T, srv TaskQueueServer) *GRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	RegisterTaskQueueServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet", Options{Token: "tok"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCClient_RoundTrip(t *testing.T) {
	fake := &fakeQueueServer{}
	c := startBufconn(t, fake)
	ctx := context.Background()

	tk, err := c.Poll(ctx, "Idle")
	require.NoError(t, err)
	assert.Nil(t, tk)

	tk, err = c.Poll(ctx, "EchoAgent")
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Equal(t, "t1", tk.ID)
	assert.Equal(t, "root", tk.OriginTaskID)

	require.NoError(t, c.PushUpdate(ctx, "t1", task.Event{Seq: 1, Content: "step"}))
	require.NoError(t, c.Submit(ctx, &task.Outcome{
		TaskID: "t1", AgentType: "EchoAgent", Status: task.StatusFinished,
		Result: map[string]any{"response": "hi"},
	}))

	id, err := c.CreateTask(ctx, task.CreateRequest{AgentType: "EchoAgent", OriginTaskID: "root"})
	require.NoError(t, err)
	assert.Equal(t, "child-of-root", id)

	rec, err := c.QueryTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, rec.Status)

	_, err = c.QueryTask(ctx, "missing")
	require.ErrorIs(t, err, task.ErrTaskNotFound)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.submitted, 1)
	assert.Equal(t, "true", fake.submitted[0].Results["success"])
	require.Len(t, fake.updates, 1)
	assert.Equal(t, "step", fake.updates[0].Content)
	assert.Contains(t, fake.authSeen, "Bearer tok")
}

func TestGRPCClient_UnimplementedIsPermanent(t *testing.T) {
	c := startBufconn(t, UnimplementedTaskQueueServer{})

	err := c.Submit(context.Background(), &task.Outcome{TaskID: "t1", Status: task.StatusFailed})
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
	assert.False(t, IsTransient(err))
}
