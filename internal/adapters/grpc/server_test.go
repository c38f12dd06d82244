package grpc_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	grpcadapter "github.com/rollboy-tz/mult-schools-management-system/internal/adapters/grpc"
	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
)

type fakeAuth struct {
	principals map[string]application.Principal
	err        error
}

func (f *fakeAuth) AuthenticateAccessToken(_ context.Context, raw string) (application.Principal, error) {
	if f.err != nil {
		return application.Principal{}, f.err
	}
	p, ok := f.principals[raw]
	if !ok {
		return application.Principal{}, domain.ErrUnauthorized
	}
	return p, nil
}

type fakeKeys struct{}

func (fakeKeys) PublicJWKs() ([]map[string]any, error) {
	return []map[string]any{{"kid": "k1", "kty": "RSA", "n": "abc", "e": "AQAB"}}, nil
}

func tokenRequest(t *testing.T, token string) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]any{"token": token})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func TestValidateTokenDirect(t *testing.T) {
	t.Parallel()

	schoolID := uuid.New()
	userID := uuid.New()
	srv := grpcadapter.NewAuthInternalServer(&fakeAuth{principals: map[string]application.Principal{
		"good": {UserID: userID, Email: "f@alpha.sc", Role: domain.RoleSuperAdmin, SchoolID: &schoolID, SchoolCode: "SCH-0001", TokenVersion: 2},
	}}, fakeKeys{})
	ctx := context.Background()

	resp, err := srv.ValidateToken(ctx, tokenRequest(t, "good"))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	fields := resp.AsMap()
	if fields["valid"] != true || fields["user_id"] != userID.String() || fields["school_id"] != schoolID.String() || fields["token_version"] != float64(2) {
		t.Fatalf("unexpected response %v", fields)
	}

	cases := []struct {
		token string
		code  codes.Code
	}{
		{"", codes.InvalidArgument},
		{"forged", codes.Unauthenticated},
	}
	for _, tc := range cases {
		if _, err := srv.ValidateToken(ctx, tokenRequest(t, tc.token)); status.Code(err) != tc.code {
			t.Fatalf("token %q: expected %s, got %v", tc.token, tc.code, err)
		}
	}

	down := grpcadapter.NewAuthInternalServer(&fakeAuth{err: fmt.Errorf("%w: redis", domain.ErrDependency)}, fakeKeys{})
	if _, err := down.ValidateToken(ctx, tokenRequest(t, "good")); status.Code(err) != codes.Unavailable {
		t.Fatalf("outage must not read as unauthenticated, got %v", err)
	}
}

func TestServiceOverBufconn(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	impl := grpcadapter.NewAuthInternalServer(&fakeAuth{principals: map[string]application.Principal{
		"good": {UserID: userID, Email: "f@alpha.sc", Role: domain.RoleSchoolAdmin},
	}}, fakeKeys{})
	server, _ := grpcadapter.NewServer(impl, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	ctx := context.Background()

	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/schoolauth.v1.AuthInternalService/ValidateToken", tokenRequest(t, "good"), out); err != nil {
		t.Fatalf("invoke validate: %v", err)
	}
	if _, ok := out.GetFields()["school_id"]; ok || out.GetFields()["role"].GetStringValue() != "school_admin" {
		t.Fatalf("unexpected response %v", out.AsMap())
	}
	if err := conn.Invoke(ctx, "/schoolauth.v1.AuthInternalService/ValidateToken", tokenRequest(t, "bad"), &structpb.Struct{}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}

	keys := &structpb.Struct{}
	if err := conn.Invoke(ctx, "/schoolauth.v1.AuthInternalService/GetPublicKeys", &emptypb.Empty{}, keys); err != nil {
		t.Fatalf("invoke keys: %v", err)
	}
	list := keys.GetFields()["keys"].GetListValue().GetValues()
	if len(list) != 1 || list[0].GetStructValue().GetFields()["kid"].GetStringValue() != "k1" {
		t.Fatalf("unexpected keys %v", keys.AsMap())
	}

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "schoolauth.v1.AuthInternalService"})
	if err != nil || health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health: %v err=%v", health, err)
	}
}
