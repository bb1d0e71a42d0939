package ingress

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/spikeflow/spikeflow/pkg/logger"
)

// RequestIDKey is the metadata key carrying the request id.
const RequestIDKey = "x-request-id"

// RPCMetricsRecorder defines metrics hooks for the gRPC ingress.
type RPCMetricsRecorder interface {
	RecordIngressRPC(method, code string, duration time.Duration)
}

type nopRPCMetrics struct{}

func (nopRPCMetrics) RecordIngressRPC(string, string, time.Duration) {}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// interceptorChain collects unary interceptors in call order.
type interceptorChain struct {
	unary []grpc.UnaryServerInterceptor
}

func newInterceptorChain() *interceptorChain { return &interceptorChain{} }

func (c *interceptorChain) add(i grpc.UnaryServerInterceptor) *interceptorChain {
	c.unary = append(c.unary, i)
	return c
}

func (c *interceptorChain) withRecovery(log logger.Logger) *interceptorChain {
	return c.add(recoveryInterceptor(log))
}

func (c *interceptorChain) withRequestID() *interceptorChain { return c.add(requestIDInterceptor()) }

func (c *interceptorChain) withTracing() *interceptorChain { return c.add(tracingInterceptor()) }

func (c *interceptorChain) withLogging(log logger.Logger) *interceptorChain {
	return c.add(loggingInterceptor(log))
}

func (c *interceptorChain) withMetrics(m RPCMetricsRecorder) *interceptorChain {
	return c.add(metricsInterceptor(m))
}

func (c *interceptorChain) withRateLimit(l *clientLimiter) *interceptorChain {
	return c.add(rateLimitInterceptor(l))
}

func (c *interceptorChain) build() []grpc.ServerOption {
	if len(c.unary) == 0 {
		return nil
	}
	return []grpc.ServerOption{grpc.ChainUnaryInterceptor(c.unary...)}
}

// recoveryInterceptor turns a handler panic into codes.Internal.
func recoveryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(ctx, "panic in gRPC handler",
					"method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// requestIDInterceptor propagates x-request-id or mints one, and echoes it
// in the response header.
func requestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(RequestIDKey); len(ids) > 0 {
				id = ids[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, id))
		return handler(context.WithValue(ctx, requestIDKey{}, id), req)
	}
}

func loggingInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		id, _ := requestIDFromContext(ctx)
		args := []any{
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
			"request_id", id,
		}
		if err != nil {
			log.WarnContext(ctx, "gRPC request failed", append(args, "error", err)...)
		} else {
			log.DebugContext(ctx, "gRPC request", args...)
		}
		return resp, err
	}
}

func metricsInterceptor(m RPCMetricsRecorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.RecordIngressRPC(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

func tracingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))

		ctx, span := otel.Tracer("spikeflow.ingress").Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(methodAttributes(info.FullMethod)...)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, status.Code(err).String())
		} else {
			span.SetStatus(otelcodes.Ok, "")
		}
		return resp, err
	}
}

func methodAttributes(fullMethod string) []attribute.KeyValue {
	service, method := "unknown", "unknown"
	if parts := strings.SplitN(strings.TrimPrefix(fullMethod, "/"), "/", 2); len(parts) == 2 {
		service, method = parts[0], parts[1]
	}
	return []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}
}

type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier{}

// clientLimiter holds one token bucket per peer address.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *clientLimiter) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[client]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = lim
	}
	return lim
}

func clientID(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "anonymous"
}

// rateLimitInterceptor rejects with codes.ResourceExhausted and a
// retry-after header. Health checks are never limited.
func rateLimitInterceptor(l *clientLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		lim := l.get(clientID(ctx))
		if !lim.Allow() {
			r := lim.Reserve()
			delay := r.Delay()
			r.Cancel()
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", delay.String()))
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}
