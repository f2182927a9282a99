package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the server-streaming RPC exposed by the generation
// sidecar. Requests and replies are google.protobuf.Struct messages.
const GenerateMethod = "/wey.generation.v1.Generator/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errGenerateResponse         = errors.New("generate response returned error")
	errNotServing               = errors.New("generation service not serving")
)

var generateStreamDesc = &grpc.StreamDesc{
	StreamName:    "Generate",
	ServerStreams: true,
}

// GrpcClient talks to an out-of-process generation service.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration for addr.
func DefaultGrpcClientConfig(addr string) GrpcClientConfig {
	return GrpcClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the generation service and waits until the
// channel is ready so a bad endpoint fails at startup.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to generation service at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("generation service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to generation service", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Ping runs the standard gRPC health check against the service.
func (c *GrpcClient) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Generate implements Generator over a server-streaming call. Each reply
// carries a "type" of token, error or done.
func (c *GrpcClient) Generate(ctx context.Context, req GenerateRequest, emit func(string) error) error {
	in, err := generateRequestStruct(req)
	if err != nil {
		return err
	}

	stream, err := c.conn.NewStream(ctx, generateStreamDesc, GenerateMethod)
	if err != nil {
		return fmt.Errorf("generate request failed: %w", err)
	}
	if err := stream.SendMsg(in); err != nil {
		return fmt.Errorf("send generate request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close generate send: %w", err)
	}

	for {
		out := &structpb.Struct{}
		err := stream.RecvMsg(out)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("generate stream error: %w", err)
		}

		fields := out.GetFields()
		switch fields["type"].GetStringValue() {
		case "error":
			if msg := fields["error_message"].GetStringValue(); msg != "" {
				return fmt.Errorf("%w: %s", errGenerateResponse, msg)
			}
			return errGenerateResponse
		case "done":
			return nil
		default:
			content := fields["content"].GetStringValue()
			if content == "" {
				continue
			}
			if err := emit(content); err != nil {
				return err
			}
		}
	}
}

func generateRequestStruct(req GenerateRequest) (*structpb.Struct, error) {
	messages := make([]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}

	st, err := structpb.NewStruct(map[string]any{
		"model":       req.Model,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"stream":      req.Stream,
		"user_id":     req.UserID,
		"messages":    messages,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return st, nil
}
