package grpcauthz

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/policyguard/internal/authz"
	"github.com/vyrodovalexey/policyguard/internal/identity"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

// DecisionFunc decides whether a call to fullMethod may proceed. ctx
// already carries the published oracle. A nil error continues with the
// returned context, or with ctx when nil is returned.
type DecisionFunc func(ctx context.Context, fullMethod string, h *oracle.Handle) (context.Context, error)

// Interceptor authorizes unary and streaming gRPC calls.
type Interceptor struct {
	binding authz.Binding
	decide  DecisionFunc
	metrics *authz.Metrics
}

// Option is a functional option for the interceptor.
type Option func(*Interceptor)

// WithMetrics sets the metrics.
func WithMetrics(metrics *authz.Metrics) Option {
	return func(i *Interceptor) {
		i.metrics = metrics
	}
}

// New creates an interceptor. A nil decide rejects every call.
func New(b authz.Binding, decide DecisionFunc, opts ...Option) *Interceptor {
	if decide == nil {
		decide = func(context.Context, string, *oracle.Handle) (context.Context, error) {
			return nil, authz.ErrNotAllowed
		}
	}
	i := &Interceptor{binding: b, decide: decide}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Unary returns a unary server interceptor.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		next, err := i.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, ToStatus(err)
		}
		return handler(next, req)
	}
}

// Stream returns a stream server interceptor.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		next, err := i.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return ToStatus(err)
		}
		return handler(srv, &serverStream{ServerStream: ss, ctx: next})
	}
}

func (i *Interceptor) authorize(ctx context.Context, fullMethod string) (context.Context, error) {
	start := time.Now()
	next, err := authz.DecideContext(ctx, i.binding, func(ctx context.Context, h *oracle.Handle) (context.Context, error) {
		return i.decide(ctx, fullMethod, h)
	})
	i.metrics.Record(authz.OutcomeFor(err), time.Since(start))
	return next, err
}

// ToStatus converts a rejection into a gRPC status error.
func ToStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authz.ErrOracleUnavailable):
		return status.Error(codes.FailedPrecondition, authz.MessageFor(err))
	case errors.Is(err, authz.ErrOracleMissing):
		return status.Error(codes.FailedPrecondition, authz.MessageFor(err))
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, authz.MessageFor(err))
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	default:
		return status.Error(codes.PermissionDenied, authz.MessageFor(err))
	}
}

// MethodDecision asks the oracle whether the caller identity may invoke the
// method. The action is the method name and the resource is the service,
// e.g. ("GetUser", "/users.v1.UserService").
func MethodDecision(anonymousSubject string) DecisionFunc {
	return func(ctx context.Context, fullMethod string, h *oracle.Handle) (context.Context, error) {
		subject, ok := identity.FromContext(ctx)
		if !ok {
			subject = identity.Anonymous(anonymousSubject)
		}

		service, method := ParseFullMethod(fullMethod)
		allowed, err := h.Evaluate(ctx, subject, method, service)
		if err != nil {
			return nil, authz.RejectErr(err)
		}
		if !allowed {
			return nil, authz.Reject(authz.ErrNotAllowed.Error())
		}
		return ctx, nil
	}
}

// ParseFullMethod splits /package.Service/Method into "/package.Service"
// and "Method".
func ParseFullMethod(fullMethod string) (service, method string) {
	idx := strings.LastIndex(fullMethod, "/")
	if idx <= 0 {
		return "", strings.TrimPrefix(fullMethod, "/")
	}
	return fullMethod[:idx], fullMethod[idx+1:]
}

// serverStream overrides the context of a wrapped stream.
type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context {
	return s.ctx
}
