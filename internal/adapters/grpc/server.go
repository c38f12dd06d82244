package grpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
)

const serviceName = "schoolauth.v1.AuthInternalService"

type AuthInternalService interface {
	ValidateToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPublicKeys(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// TokenAuthenticator resolves a bearer access token to its principal.
type TokenAuthenticator interface {
	AuthenticateAccessToken(ctx context.Context, rawToken string) (application.Principal, error)
}

// KeySource publishes the access token verification keys.
type KeySource interface {
	PublicJWKs() ([]map[string]any, error)
}

// AuthInternalServer lets sibling services check access tokens without
// holding the signing keys.
type AuthInternalServer struct {
	auth TokenAuthenticator
	keys KeySource
}

func NewAuthInternalServer(auth TokenAuthenticator, keys KeySource) *AuthInternalServer {
	return &AuthInternalServer{auth: auth, keys: keys}
}

// NewServer builds a grpc.Server with the internal auth service, the standard
// health service and request logging.
func NewServer(svc AuthInternalService, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	Register(server, svc)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthSrv)
	return server, healthSrv
}

func Register(server grpc.ServiceRegistrar, svc AuthInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*AuthInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ValidateToken",
				Handler: unaryHandler("ValidateToken", func() *structpb.Struct { return &structpb.Struct{} },
					func(ctx context.Context, s AuthInternalService, req *structpb.Struct) (any, error) {
						return s.ValidateToken(ctx, req)
					}),
			},
			{
				MethodName: "GetPublicKeys",
				Handler: unaryHandler("GetPublicKeys", func() *emptypb.Empty { return &emptypb.Empty{} },
					func(ctx context.Context, s AuthInternalService, req *emptypb.Empty) (any, error) {
						return s.GetPublicKeys(ctx, req)
					}),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "schoolauth/v1/auth_internal.proto",
	}, svc)
}

func (s *AuthInternalServer) ValidateToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := req.GetFields()["token"].GetStringValue()
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "missing token")
	}

	principal, err := s.auth.AuthenticateAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrDependency) {
			return nil, status.Error(codes.Unavailable, "token store unavailable")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	fields := map[string]any{
		"valid":         true,
		"user_id":       principal.UserID.String(),
		"email":         principal.Email,
		"role":          string(principal.Role),
		"token_version": principal.TokenVersion,
		"school_code":   principal.SchoolCode,
	}
	if principal.SchoolID != nil {
		fields["school_id"] = principal.SchoolID.String()
	}
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *AuthInternalServer) GetPublicKeys(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	keys, err := s.keys.PublicJWKs()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get keys: %v", err)
	}
	// structpb only accepts []any, not typed slices.
	list := make([]any, 0, len(keys))
	for _, k := range keys {
		list = append(list, k)
	}
	resp, err := structpb.NewStruct(map[string]any{"keys": list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

type methodHandler = func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error)

func unaryHandler[Req any](method string, newReq func() *Req, call func(context.Context, AuthInternalService, *Req) (any, error)) methodHandler {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		svc, ok := srv.(AuthInternalService)
		if !ok {
			return nil, status.Error(codes.Internal, "unexpected server type")
		}
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, svc, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, in any) (any, error) {
			typed, ok := in.(*Req)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, svc, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	log := logger.With("module", "grpc", "layer", "adapter")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []any{
			"operation", info.FullMethod,
			"outcome", "success",
			"grpc_code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch code {
		case codes.OK:
			log.DebugContext(ctx, "grpc request completed", fields...)
		case codes.Unavailable, codes.Internal:
			fields[3] = "failure"
			log.ErrorContext(ctx, "grpc request completed", fields...)
		default:
			fields[3] = "failure"
			log.WarnContext(ctx, "grpc request completed", fields...)
		}
		return resp, err
	}
}
