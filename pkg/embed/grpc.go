package embed

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "imagesearch.embed.v1.EmbedService"

const (
	methodEmbedText  = "/" + ServiceName + "/EmbedText"
	methodEmbedImage = "/" + ServiceName + "/EmbedImage"
)

// GRPCClient embeds via the EmbedService on an existing connection.
type GRPCClient struct {
	conn   grpc.ClientConnInterface
	health healthpb.HealthClient
}

// NewGRPCClient wraps conn. The caller owns conn and closes it.
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn, health: healthpb.NewHealthClient(conn)}
}

// EmbedText implements TextEmbedder.
func (c *GRPCClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, methodEmbedText, wrapperspb.String(text), out); err != nil {
		return nil, fmt.Errorf("embed: grpc text: %w", err)
	}
	return fromListValue("grpc text", out)
}

// EmbedImage implements ImageEmbedder.
func (c *GRPCClient) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	out := new(structpb.ListValue)
	if err := c.conn.Invoke(ctx, methodEmbedImage, wrapperspb.Bytes(image), out); err != nil {
		return nil, fmt.Errorf("embed: grpc image: %w", err)
	}
	return fromListValue("grpc image", out)
}

// Check implements Checker with the standard gRPC health protocol.
func (c *GRPCClient) Check(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("embed: grpc health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("embed: grpc health: %s", resp.GetStatus())
	}
	return nil
}

func fromListValue(op string, lv *structpb.ListValue) ([]float32, error) {
	vals := lv.GetValues()
	out := make([]float32, len(vals))
	for i, v := range vals {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("embed: %s: element %d is not a number", op, i)
		}
		out[i] = float32(n.NumberValue)
	}
	return checkVector(op, out)
}

func toListValue(v []float32) *structpb.ListValue {
	vals := make([]*structpb.Value, len(v))
	for i, x := range v {
		vals[i] = structpb.NewNumberValue(float64(x))
	}
	return &structpb.ListValue{Values: vals}
}

type embedServer struct {
	e Embedder
}

func (s *embedServer) embedText(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	v, err := s.e.EmbedText(ctx, in.GetValue())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toListValue(v), nil
}

func (s *embedServer) embedImage(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	if len(in.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty image")
	}
	v, err := s.e.EmbedImage(ctx, in.GetValue())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toListValue(v), nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EmbedText", Handler: embedTextHandler},
		{MethodName: "EmbedImage", Handler: embedImageHandler},
	},
	Metadata: "imagesearch/embed/v1/embed.proto",
}

func embedTextHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*embedServer)
	if interceptor == nil {
		return s.embedText(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodEmbedText}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return s.embedText(ctx, req.(*wrapperspb.StringValue))
	})
}

func embedImageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*embedServer)
	if interceptor == nil {
		return s.embedImage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodEmbedImage}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return s.embedImage(ctx, req.(*wrapperspb.BytesValue))
	})
}

// RegisterServer exposes e as the EmbedService on srv, together with a
// health service reporting it as serving. The returned health server lets
// the caller flip the status on shutdown.
func RegisterServer(srv *grpc.Server, e Embedder) *health.Server {
	srv.RegisterService(&serviceDesc, &embedServer{e: e})
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return hs
}
