package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/zitadel/oidc/v3/pkg/client"
	"github.com/zitadel/oidc/v3/pkg/client/rs"
	"go.uber.org/fx"

	"github.com/mcpforge/server/internal/config"
)

// Module wires the MCP session/streaming coordination core: schema validation, the session
// store, the pub/sub broker, token validation, the authorization pipeline, the JSON-RPC
// dispatcher, the SSE stream manager, async tasks, and elicitation (C1-C9).
var Module = fx.Module("mcp",
	fx.Provide(
		NewRegistry,
		newRedisClient,
		NewStoreBacking,
		NewBrokerBacking,
		NewTaskManager,
		NewElicitationManager,
		NewDispatcher,
		newDefaultHTTPClient,
		NewJWKSCache,
		newTokenValidatorConfig,
		NewTokenValidator,
		NewTokenRefresher,
		NewAuthMiddleware,
		NewStreamManager,
		NewHandler,
		NewElicitationHandler,
		NewSweeper,
	),
	fx.Invoke(RegisterRoutes, startSweeper, wireElicitor),
)

// wireElicitor binds mcpElicit (§4.9) into the dispatcher once its dependencies are constructed;
// SetElicitor is a post-construction setter rather than a NewDispatcher parameter so dispatcher
// tests can exercise the method table without standing up a StreamManager.
func wireElicitor(dispatcher *Dispatcher, elicitations *ElicitationManager, streams *StreamManager) {
	dispatcher.SetElicitor(NewElicitor(elicitations, streams))
}

// newRedisClient returns nil when Redis isn't configured, so downstream providers fall back to
// the in-memory Store/Broker variants (§4.2, §4.3 "single-instance vs distributed").
func newRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// NewStoreBacking selects the Redis-backed Store when Redis is configured, otherwise the
// in-memory variant.
func NewStoreBacking(cfg *config.Config, client *redis.Client) (Store, error) {
	if client == nil {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(RedisStoreOptions{Client: client, KeyPrefix: cfg.Redis.KeyPrefix})
}

// NewBrokerBacking selects the Redis Pub/Sub Broker when Redis is configured, otherwise the
// single-instance in-memory variant.
func NewBrokerBacking(client *redis.Client) Broker {
	if client == nil {
		return NewMemoryBroker()
	}
	return NewRedisBroker(client)
}

// newTokenValidatorConfig builds the JWKS/introspection configuration from the Zitadel settings,
// constructing a resource-server client for RFC 7662 introspection only when a service-account
// key is configured (§4.4 "introspection fallback").
func newTokenValidatorConfig(cfg *config.Config, log *slog.Logger) (TokenValidatorConfig, error) {
	tvCfg := TokenValidatorConfig{
		JWKSURI:          cfg.Zitadel.JWKSURI(),
		ExpectedAudience: cfg.MCP.ExpectedAudience,
		ExpectedIssuer:   cfg.Zitadel.GetIssuer(),
	}
	if cfg.Zitadel.DisableIntrospection {
		return tvCfg, nil
	}
	if cfg.Zitadel.ClientJWT == "" && cfg.Zitadel.ClientJWTPath == "" {
		log.Warn("zitadel introspection not configured; opaque tokens will be rejected")
		return tvCfg, nil
	}

	var keyFile *client.KeyFile
	var err error
	if cfg.Zitadel.ClientJWT != "" {
		keyFile, err = client.ConfigFromKeyFileData([]byte(cfg.Zitadel.ClientJWT))
	} else {
		keyFile, err = client.ConfigFromKeyFile(cfg.Zitadel.ClientJWTPath)
	}
	if err != nil {
		return tvCfg, fmt.Errorf("parse zitadel client key: %w", err)
	}

	clientID := keyFile.ClientID
	if clientID == "" {
		clientID = keyFile.UserID
	}
	resourceServer, err := rs.NewResourceServerJWTProfile(context.Background(), cfg.Zitadel.GetIssuer(), clientID, keyFile.KeyID, []byte(keyFile.Key))
	if err != nil {
		return tvCfg, fmt.Errorf("init resource server: %w", err)
	}
	tvCfg.Introspection = resourceServer
	return tvCfg, nil
}

func newDefaultHTTPClient() *http.Client {
	return &http.Client{}
}
