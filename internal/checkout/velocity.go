package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/course-checkout/pkg/logging"
)

// OpenLimiter decides whether a client may open another session.
type OpenLimiter interface {
	AllowOpen(ctx context.Context, clientIP string) (*VelocityResult, error)
}

// VelocityConfig caps session opens per client IP.
type VelocityConfig struct {
	MaxOpensPerIP int
	Window        time.Duration
}

// DefaultVelocityConfig returns default session-open limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxOpensPerIP: 20,
		Window:        time.Hour,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// VelocityChecker counts session opens in Redis.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	def := DefaultVelocityConfig()
	if config.MaxOpensPerIP <= 0 {
		config.MaxOpensPerIP = def.MaxOpensPerIP
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// AllowOpen increments the counter for clientIP. Redis failures allow the open.
func (v *VelocityChecker) AllowOpen(ctx context.Context, clientIP string) (*VelocityResult, error) {
	ctx, span := tracer.Start(ctx, "velocity.check_open")
	defer span.End()
	span.SetAttributes(attribute.String("velocity.check_type", "session_open"))

	key := fmt.Sprintf("velocity:session_open:%s", clientIP)
	count, expiry, err := v.incrementAndGet(ctx, key, v.config.Window)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxOpensPerIP,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxOpensPerIP,
		WindowExpiry: expiry,
	}
	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d checkout sessions in %s", v.config.MaxOpensPerIP, v.config.Window)
		v.logger.Warn("session open velocity exceeded",
			"client_ip", clientIP,
			"count", count,
			"max", v.config.MaxOpensPerIP,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}
	return result, nil
}

// Reset clears the counter for clientIP.
func (v *VelocityChecker) Reset(ctx context.Context, clientIP string) error {
	return v.redis.Del(ctx, fmt.Sprintf("velocity:session_open:%s", clientIP)).Err()
}

func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	// first increment opens the window
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}
	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil {
		ttl = window
	}
	return int(count), time.Now().Add(ttl), nil
}
