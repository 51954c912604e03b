package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gin-gonic/gin"

	"github.com/atelier-studio/atelier/internal/api"
	"github.com/atelier-studio/atelier/internal/app"
	"github.com/atelier-studio/atelier/internal/cache"
	"github.com/atelier-studio/atelier/internal/identity"
	"github.com/atelier-studio/atelier/internal/ratelimit"
	"github.com/atelier-studio/atelier/internal/realtime"
	"github.com/atelier-studio/atelier/internal/services"
	"github.com/atelier-studio/atelier/internal/storage"
	"github.com/atelier-studio/atelier/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB     *gorm.DB
	Cache  cache.Store
	Broker *realtime.Broker
	Hub    *realtime.Hub
	Router *gin.Engine
}

// bootstrapRuntime initialises the database, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Cache = cache.NewMemoryStore()
	if cfg.Cache.Redis.Enabled {
		redisStore, redisErr := cache.NewRedisStore(cfg.Cache.RedisStoreConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to in-memory rate limiting", zap.Error(redisErr))
		} else {
			stack.Cache = redisStore
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	var objects storage.ObjectStore
	if cfg.Storage.S3.Enabled {
		objects, err = storage.NewS3Store(ctx, cfg.Storage.ObjectStoreConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise object storage: %w", err)
		}
		log.Info("object storage ready", zap.String("bucket", cfg.Storage.S3.Bucket))
	} else {
		log.Warn("object storage disabled; message attachments will not be stored")
	}

	directory := identity.NewDirectory(stack.DB)
	limiter := ratelimit.NewLimiter(stack.Cache, cfg.Limits.LimiterOptions()...)
	stack.Broker = realtime.NewBroker()

	notificationSvc, err := services.NewNotificationService(stack.DB, stack.Broker, directory, mailer)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	invitationSvc, err := services.NewInvitationService(stack.DB, directory, limiter, notificationSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise invitation service: %w", err)
	}

	channelSvc, err := services.NewChannelService(stack.DB, directory, stack.Broker)
	if err != nil {
		return nil, fmt.Errorf("initialise channel service: %w", err)
	}

	messageSvc, err := services.NewMessageService(stack.DB, channelSvc, directory, objects, stack.Broker)
	if err != nil {
		return nil, fmt.Errorf("initialise message service: %w", err)
	}

	stack.Hub = realtime.NewHub(services.NewTopicAuthorizer(channelSvc, directory))

	// Everything published through the broker fans out to websocket
	// subscribers; in-process subscribers attach to the broker directly.
	stack.Broker.SubscribeAll(func(topic string, event realtime.Event) {
		stack.Hub.Publish(topic, event)
	})

	stack.Router = api.NewRouter(api.Dependencies{
		Invitations:   invitationSvc,
		Notifications: notificationSvc,
		Channels:      channelSvc,
		Messages:      messageSvc,
		Hub:           stack.Hub,
	})

	success = true
	return stack, nil
}

// Shutdown releases the resources held by the stack.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s == nil {
		return
	}

	if rc, ok := s.Cache.(*cache.RedisStore); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}
