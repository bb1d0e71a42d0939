package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/spikeflow/spikeflow/pkg/logger"
)

const (
	// IngressServiceName is the gRPC service spikes are emitted through.
	IngressServiceName = "spikeflow.ingress.v1.Ingress"
	// EmitMethod is the full method name of the emit RPC.
	EmitMethod = "/" + IngressServiceName + "/Emit"
)

// GRPCKeepalive mirrors keepalive.ServerParameters and EnforcementPolicy.
type GRPCKeepalive struct {
	MaxIdle             time.Duration
	MaxAge              time.Duration
	MaxAgeGrace         time.Duration
	Time                time.Duration
	Timeout             time.Duration
	MinTime             time.Duration
	PermitWithoutStream bool
}

// GRPCConfig configures a GRPCSource.
type GRPCConfig struct {
	Address              string
	MaxConcurrentStreams uint32
	MaxRecvMsgSize       int
	EnableReflection     bool
	EnableHealthCheck    bool
	Keepalive            *GRPCKeepalive

	// ClientRateLimit is the per-peer request rate, 0 = unlimited.
	ClientRateLimit float64
	ClientBurst     int
}

// ingressServer is the handler type of the emit service.
type ingressServer interface {
	Emit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func emitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ingressServer).Emit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EmitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ingressServer).Emit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// IngressServiceDesc describes the emit service. Requests and responses are
// google.protobuf.Struct so that no generated code is needed on either side.
var IngressServiceDesc = grpc.ServiceDesc{
	ServiceName: IngressServiceName,
	HandlerType: (*ingressServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Emit", Handler: emitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spikeflow/ingress/v1/ingress.proto",
}

// MessageToStruct encodes msg as an emit request.
func MessageToStruct(msg *Message) (*structpb.Struct, error) {
	fields := map[string]any{
		"signal": msg.Signal,
		"wipe":   msg.Wipe,
	}
	if len(msg.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return nil, fmt.Errorf("payload is not valid JSON: %w", err)
		}
		fields["payload"] = payload
	}
	if !msg.SentAt.IsZero() {
		fields["sent_at"] = msg.SentAt.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

// MessageFromStruct decodes an emit request.
func MessageFromStruct(req *structpb.Struct) (*Message, error) {
	if req == nil {
		return nil, errors.New("empty request")
	}
	f := req.GetFields()
	msg := &Message{SentAt: time.Now().UTC()}

	if v, ok := f["signal"]; ok {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, errors.New("signal must be a string")
		}
		msg.Signal = s.StringValue
	}
	if v, ok := f["wipe"]; ok {
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return nil, errors.New("wipe must be a bool")
		}
		msg.Wipe = b.BoolValue
	}
	if v, ok := f["payload"]; ok {
		data, err := json.Marshal(v.AsInterface())
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		msg.Payload = data
	}
	if v, ok := f["sent_at"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
			msg.SentAt = ts
		}
	}
	return msg, nil
}

// GRPCSource serves the emit RPC and hands each request to the gateway.
type GRPCSource struct {
	cfg     GRPCConfig
	log     logger.Logger
	metrics MetricsRecorder
	rpc     RPCMetricsRecorder

	mu       sync.Mutex
	listener net.Listener
	server   *grpc.Server
	health   *health.Server
	closed   bool
	deliver  DeliverFunc
	failed   chan error
}

// GRPCOption configures a GRPCSource.
type GRPCOption func(*GRPCSource)

// WithGRPCListener serves on lis instead of listening on cfg.Address.
func WithGRPCListener(lis net.Listener) GRPCOption {
	return func(s *GRPCSource) { s.listener = lis }
}

// WithGRPCLogger sets the logger used by the RPC interceptors.
func WithGRPCLogger(log logger.Logger) GRPCOption {
	return func(s *GRPCSource) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRPCMetrics records per-RPC counts and latency.
func WithRPCMetrics(m RPCMetricsRecorder) GRPCOption {
	return func(s *GRPCSource) {
		if m != nil {
			s.rpc = m
		}
	}
}

// NewGRPCSource creates the source. Nothing listens until Run.
func NewGRPCSource(cfg GRPCConfig, opts ...GRPCOption) *GRPCSource {
	s := &GRPCSource{
		cfg:     cfg,
		log:     logger.Nop(),
		metrics: nopMetrics{},
		rpc:     nopRPCMetrics{},
		failed:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetMetrics sets the recorder used for undecodable requests.
func (s *GRPCSource) SetMetrics(m MetricsRecorder) {
	if m == nil {
		return
	}
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Name implements Source.
func (s *GRPCSource) Name() string { return "grpc" }

// Addr returns the listening address once Run has started.
func (s *GRPCSource) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Address
}

func (s *GRPCSource) serverOptions() []grpc.ServerOption {
	var opts []grpc.ServerOption
	if s.cfg.MaxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(s.cfg.MaxConcurrentStreams))
	}
	if s.cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.cfg.MaxRecvMsgSize))
	}
	if ka := s.cfg.Keepalive; ka != nil {
		opts = append(opts,
			grpc.KeepaliveParams(keepalive.ServerParameters{
				MaxConnectionIdle:     ka.MaxIdle,
				MaxConnectionAge:      ka.MaxAge,
				MaxConnectionAgeGrace: ka.MaxAgeGrace,
				Time:                  ka.Time,
				Timeout:               ka.Timeout,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             ka.MinTime,
				PermitWithoutStream: ka.PermitWithoutStream,
			}),
		)
	}

	chain := newInterceptorChain().
		withRecovery(s.log).
		withRequestID().
		withTracing().
		withLogging(s.log).
		withMetrics(s.rpc)
	if s.cfg.ClientRateLimit > 0 {
		chain = chain.withRateLimit(newClientLimiter(s.cfg.ClientRateLimit, s.cfg.ClientBurst))
	}
	return append(opts, chain.build()...)
}

// Run serves until ctx ends, Close is called or the gateway reports that
// the engine is shutting down.
func (s *GRPCSource) Run(ctx context.Context, deliver DeliverFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	lis := s.listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", s.cfg.Address)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
		}
		s.listener = lis
	}
	s.deliver = deliver
	srv := grpc.NewServer(s.serverOptions()...)
	srv.RegisterService(&IngressServiceDesc, s)
	if s.cfg.EnableHealthCheck {
		s.health = health.NewServer()
		grpc_health_v1.RegisterHealthServer(srv, s.health)
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		s.health.SetServingStatus(IngressServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	if s.cfg.EnableReflection {
		reflection.Register(srv)
	}
	s.server = srv
	s.mu.Unlock()

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(lis)
	}()
	s.log.Info("gRPC ingress listening", "address", lis.Addr().String())

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-s.failed:
	case err = <-served:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			err = ErrClosed
		}
	}
	s.stop()
	return err
}

// Emit implements the emit RPC.
func (s *GRPCSource) Emit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	deliver, metrics := s.deliver, s.metrics
	s.mu.Unlock()
	if deliver == nil {
		return nil, status.Error(codes.Unavailable, "ingress is not running")
	}

	msg, err := MessageFromStruct(req)
	if err == nil {
		err = msg.Validate()
	}
	if err != nil {
		metrics.RecordIngressReceived(s.Name())
		metrics.RecordIngressDropped(s.Name(), DropDecode)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := deliver(ctx, s.Name(), msg); err != nil {
		select {
		case s.failed <- err:
		default:
		}
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	resp := map[string]any{"accepted": true, "signal": msg.Signal}
	if id, ok := requestIDFromContext(ctx); ok {
		resp["request_id"] = id
	}
	return structpb.NewStruct(resp)
}

// stop drains in-flight RPCs. The health status flips first so that load
// balancers stop routing here.
func (s *GRPCSource) stop() {
	s.mu.Lock()
	srv, hs := s.server, s.health
	s.server = nil
	s.deliver = nil
	s.mu.Unlock()
	if hs != nil {
		hs.Shutdown()
	}
	if srv != nil {
		srv.GracefulStop()
	}
}

// Close stops serving. Run returns ErrClosed.
func (s *GRPCSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.stop()
	return nil
}

// IngressClient calls the emit RPC of a remote spikeflow process.
type IngressClient struct {
	cc grpc.ClientConnInterface
}

// NewIngressClient wraps cc.
func NewIngressClient(cc grpc.ClientConnInterface) *IngressClient {
	return &IngressClient{cc: cc}
}

// Emit sends msg and returns the server's acknowledgement.
func (c *IngressClient) Emit(ctx context.Context, msg *Message, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := MessageToStruct(msg)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, EmitMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
