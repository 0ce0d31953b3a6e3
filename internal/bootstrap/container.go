package bootstrap

import (
	"context"
	"log"

	"knowledge-qa-be/internal/config"
	"knowledge-qa-be/internal/constant"
	"knowledge-qa-be/internal/controller"
	"knowledge-qa-be/internal/handler"
	"knowledge-qa-be/internal/pkg/logger"
	"knowledge-qa-be/internal/pkg/mailer"
	"knowledge-qa-be/internal/repository/unitofwork"
	"knowledge-qa-be/internal/service"
	"knowledge-qa-be/internal/websocket"
	"knowledge-qa-be/pkg/relay"
	"knowledge-qa-be/pkg/upstream/agent"

	pktNats "knowledge-qa-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	AuthController    controller.IAuthController
	AskController     controller.IAskController
	SessionController controller.ISessionController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	// WebSockets & Notification
	NotificationHandler *handler.NotificationHandler
	WebSocketHub        *websocket.Hub
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	emailService := mailer.NewEmailService(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Email,
		cfg.SMTP.Password,
		cfg.SMTP.SenderName,
		cfg.SMTP.OpsEmail,
	)

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 2.5 Infrastructure
	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger("logs/notification.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run()

	// 3. Relay Infrastructure
	agentClient := agent.NewClient(cfg.Agent.BaseURL)
	if cfg.Agent.AskPath != "" {
		agentClient.AskPath = cfg.Agent.AskPath
	}
	conversationLock := relay.NewConversationLock()

	// 4. Services
	publisherService := service.NewPublisherService(constant.TopicQASessionSaved, pubSub)
	consumerService := service.NewConsumerService(
		pubSub,
		constant.TopicQASessionSaved,
		natsPub,
	)

	authService := service.NewAuthService(uowFactory)
	sessionService := service.NewSessionService(uowFactory)
	askService := service.NewAskService(
		uowFactory,
		agentClient,
		conversationLock,
		publisherService,
		emailService,
		sysLogger,
	)

	// Notification worker
	if natsSub != nil {
		notifyService := service.NewNotifyService(natsSub, wsHub, wsLogger)
		if err := notifyService.Start(); err != nil {
			log.Printf("[WARN] Failed to start notify worker: %v", err)
		}
	}

	// Handler
	notifHandler := handler.NewNotificationHandler(wsHub, wsLogger)

	// 5. Controllers
	return &Container{
		NotificationHandler: notifHandler,
		WebSocketHub:        wsHub,
		AuthController:      controller.NewAuthController(authService),
		AskController:       controller.NewAskController(askService, sysLogger),
		SessionController:   controller.NewSessionController(sessionService),

		ConsumerService: consumerService,
	}
}
