package config

import (
	"fmt"
	"net"
	"strings"
)

// Validate rejects configurations the node cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	switch strings.ToLower(cfg.StorageBackend) {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: StorageBackend must be leveldb, bolt or memory, got %q", cfg.StorageBackend)
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if cfg.RPC.RateLimitPerSecond < 0 || cfg.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if cfg.RPC.RateLimitPerSecond > 0 && cfg.RPC.RateLimitBurst == 0 {
		return fmt.Errorf("rpc: RateLimitBurst must be positive when RateLimitPerSecond is set")
	}
	if cfg.RPC.MaxConnections < 0 {
		return fmt.Errorf("rpc: MaxConnections must not be negative")
	}
	for _, proxy := range cfg.RPC.TrustedProxies {
		if net.ParseIP(strings.TrimSpace(proxy)) == nil {
			return fmt.Errorf("rpc: TrustedProxies entry %q is not an IP address", proxy)
		}
	}
	if secret := cfg.RPC.JWTSecret; secret != "" && len(secret) < 32 {
		return fmt.Errorf("rpc: JWTSecret must be at least 32 bytes")
	}
	if cfg.Archive.Enabled {
		switch cfg.Archive.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("archive: Driver must be sqlite or postgres, got %q", cfg.Archive.Driver)
		}
		if strings.TrimSpace(cfg.Archive.DSN) == "" {
			return fmt.Errorf("archive: DSN required when enabled")
		}
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return fmt.Errorf("redis: Addr required when enabled")
	}
	if strings.TrimSpace(cfg.Webhook.Endpoint) != "" && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return fmt.Errorf("webhook: Secret required when Endpoint is set")
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	return nil
}
