package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// fakeGenerationService answers GenerateMethod with the given replies.
func startFakeGenerationService(t *testing.T, replies []map[string]any, seen chan<- *structpb.Struct) *GrpcClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != GenerateMethod {
			return status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}
		in := &structpb.Struct{}
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		if seen != nil {
			seen <- in
		}
		for _, r := range replies {
			out, err := structpb.NewStruct(r)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
		return nil
	}))
	healthpb.RegisterHealthServer(srv, health.NewServer())

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultGrpcClientConfig("passthrough:///bufnet")
	cfg.ConnectTimeout = 2 * time.Second
	client, err := NewGrpcClient(cfg, nil, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestGrpcClientGenerateStreamsTokens(t *testing.T) {
	seen := make(chan *structpb.Struct, 1)
	client := startFakeGenerationService(t, []map[string]any{
		{"type": "token", "content": "Hi"},
		{"type": "token", "content": ""},
		{"type": "token", "content": " there"},
		{"type": "done"},
	}, seen)

	var toks []string
	err := client.Generate(context.Background(), GenerateRequest{
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		Stream:      true,
		UserID:      "u1",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
	}, func(tok string) error {
		toks = append(toks, tok)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, toks)

	req := <-seen
	fields := req.GetFields()
	assert.Equal(t, "gpt-4o-mini", fields["model"].GetStringValue())
	assert.Equal(t, "u1", fields["user_id"].GetStringValue())
	msgs := fields["messages"].GetListValue().GetValues()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].GetStructValue().GetFields()["content"].GetStringValue())
}

func TestGrpcClientGenerateServerError(t *testing.T) {
	client := startFakeGenerationService(t, []map[string]any{
		{"type": "token", "content": "Hi"},
		{"type": "error", "error_message": "model crashed"},
	}, nil)

	var toks []string
	err := client.Generate(context.Background(), GenerateRequest{Stream: true}, func(tok string) error {
		toks = append(toks, tok)
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errGenerateResponse)
	assert.Contains(t, err.Error(), "model crashed")
	assert.Equal(t, []string{"Hi"}, toks)
}

func TestGrpcClientPing(t *testing.T) {
	client := startFakeGenerationService(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, client.Ping(ctx))
}
