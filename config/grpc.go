package config

import (
	"net"
	"strconv"
	"time"

	"github.com/spikeflow/spikeflow/pkg/ingress"
)

// GRPCConfig holds the gRPC ingress settings.
type GRPCConfig struct {
	// Enabled serves the emit RPC.
	Enabled bool `mapstructure:"enabled"`

	// Host is the interface to bind, empty for all.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the gRPC server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxConcurrentStreams limits streams per connection, 0 = gRPC default.
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams" validate:"min=0"`

	// MaxRecvMsgSize is the largest accepted request in bytes, 0 = gRPC default.
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size" validate:"min=0"`

	// EnableReflection registers the reflection service for grpcurl and friends.
	EnableReflection bool `mapstructure:"enable_reflection"`

	// EnableHealthCheck registers grpc.health.v1.Health.
	EnableHealthCheck bool `mapstructure:"enable_health_check"`

	// ClientRateLimit caps requests per second per peer, 0 = unlimited.
	ClientRateLimit float64 `mapstructure:"client_rate_limit" validate:"gte=0"`

	// ClientBurst is the per-peer burst.
	ClientBurst int `mapstructure:"client_burst" validate:"min=0"`

	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCKeepaliveConfig holds gRPC keepalive settings.
type GRPCKeepaliveConfig struct {
	MaxIdle             time.Duration `mapstructure:"max_idle" validate:"gte=0"`
	MaxAge              time.Duration `mapstructure:"max_age" validate:"gte=0"`
	MaxAgeGrace         time.Duration `mapstructure:"max_age_grace" validate:"gte=0"`
	Time                time.Duration `mapstructure:"time" validate:"gte=0"`
	Timeout             time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MinTime             time.Duration `mapstructure:"min_time" validate:"gte=0"`
	PermitWithoutStream bool          `mapstructure:"permit_without_stream"`
}

// Address returns host:port.
func (g *GRPCConfig) Address() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

// ToIngressConfig converts GRPCConfig to ingress.GRPCConfig.
func (g *GRPCConfig) ToIngressConfig() ingress.GRPCConfig {
	return ingress.GRPCConfig{
		Address:              g.Address(),
		MaxConcurrentStreams: uint32(g.MaxConcurrentStreams),
		MaxRecvMsgSize:       g.MaxRecvMsgSize,
		EnableReflection:     g.EnableReflection,
		EnableHealthCheck:    g.EnableHealthCheck,
		ClientRateLimit:      g.ClientRateLimit,
		ClientBurst:          g.ClientBurst,
		Keepalive: &ingress.GRPCKeepalive{
			MaxIdle:             g.Keepalive.MaxIdle,
			MaxAge:              g.Keepalive.MaxAge,
			MaxAgeGrace:         g.Keepalive.MaxAgeGrace,
			Time:                g.Keepalive.Time,
			Timeout:             g.Keepalive.Timeout,
			MinTime:             g.Keepalive.MinTime,
			PermitWithoutStream: g.Keepalive.PermitWithoutStream,
		},
	}
}
