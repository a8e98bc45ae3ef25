package application

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nightdesk/nightdesk/internal/domain/repository"
	"github.com/nightdesk/nightdesk/internal/domain/service"
	domaintool "github.com/nightdesk/nightdesk/internal/domain/tool"
	"github.com/nightdesk/nightdesk/internal/domain/transport"
	"github.com/nightdesk/nightdesk/internal/infrastructure/config"
	"github.com/nightdesk/nightdesk/internal/infrastructure/llm"
	"github.com/nightdesk/nightdesk/internal/infrastructure/llm/gemini"
	"github.com/nightdesk/nightdesk/internal/infrastructure/persistence"
	"github.com/nightdesk/nightdesk/internal/infrastructure/queue"
	toolpkg "github.com/nightdesk/nightdesk/internal/infrastructure/tool"
	httpServer "github.com/nightdesk/nightdesk/internal/interfaces/http"
	"github.com/nightdesk/nightdesk/internal/interfaces/http/handlers"
	"github.com/nightdesk/nightdesk/internal/interfaces/telegram"
	"github.com/nightdesk/nightdesk/internal/interfaces/whatsapp"
)

// App 应用程序（依赖注入容器）
type App struct {
	config *config.Config
	viper  *viper.Viper
	logger *zap.Logger
	db     *gorm.DB

	// 仓储层
	contactRepo      repository.ContactRepository
	messageLogRepo   repository.MessageLogRepository
	conversationRepo repository.ConversationRepository
	profileRepo      repository.ProfileRepository
	reportRepo       repository.ReportRepository
	credentialStore  repository.CredentialStore

	// 基础设施
	sessionLock *persistence.SessionLock
	gateway     *llm.Gateway
	queueStore  *queue.Store
	workerPool  *queue.WorkerPool
	autoscaler  *queue.Autoscaler
	executor    *toolpkg.Executor

	// 领域服务
	promptBuilder  *service.PromptBuilder
	sessionTracker *service.SessionTracker
	replyPipeline  *service.ReplyPipeline
	reportWorker   *service.ReportWorker
	intake         *service.Intake

	// 接口层
	whatsappAdapter *whatsapp.Adapter
	telegramAdapter *telegram.Adapter
	httpServer      *httpServer.Server

	// 会话不可恢复时向 main 报告，由 supervisor 重启进程
	fatal chan string
}

// NewApp 创建应用程序
func NewApp(cfg *config.Config, v *viper.Viper, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		viper:  v,
		logger: logger,
		fatal:  make(chan string, 1),
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}
	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	return app, nil
}

// Fatal 不可恢复事件通道。main 在收到后以非零码退出。
func (app *App) Fatal() <-chan string {
	return app.fatal
}

// initRepositories 初始化仓储层
func (app *App) initRepositories() error {
	app.logger.Info("Initializing repositories")

	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db

	app.contactRepo = persistence.NewGormContactRepository(db)
	app.messageLogRepo = persistence.NewGormMessageLogRepository(db)
	app.conversationRepo = persistence.NewGormConversationRepository(db)
	app.profileRepo = persistence.NewGormProfileRepository(db)
	app.reportRepo = persistence.NewGormReportRepository(db)
	app.credentialStore = persistence.NewGormCredentialStore(db)

	app.sessionLock = persistence.NewSessionLock(db, app.logger, app.config.WhatsApp.SessionName)
	return nil
}

// initInfrastructure 初始化模型网关与消息队列
func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	keys := app.config.LLM.Keys(app.viper)
	if len(keys) == 0 {
		return fmt.Errorf("no LLM API keys configured")
	}
	provider := gemini.NewProvider(app.config.LLM.BaseURL, app.logger)
	app.gateway = llm.NewGateway(provider, keys, &app.config.LLM, app.logger)

	pipeline := app.config.Pipeline
	app.queueStore = queue.NewStore(app.db, app.logger, pipeline.MaxRetries, pipeline.LeaseTimeout)
	return nil
}

// initInterfaces 初始化传输层与管理 API
func (app *App) initInterfaces() error {
	app.logger.Info("Initializing interfaces")

	if app.config.WhatsApp.Enabled {
		app.whatsappAdapter = whatsapp.NewAdapter(whatsapp.Config{
			URL:         app.config.WhatsApp.URL,
			SessionName: app.config.WhatsApp.SessionName,
		}, app.credentialStore, app.logger)
	}

	if app.config.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			BotToken:    app.config.Telegram.BotToken,
			OwnerChatID: app.config.Telegram.OwnerChatID,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to init telegram: %w", err)
		}
		app.telegramAdapter = adapter
	}

	if app.whatsappAdapter == nil && app.telegramAdapter == nil {
		return fmt.Errorf("no transport enabled")
	}
	return nil
}

// initDomainServices 组装消息管线
func (app *App) initDomainServices() error {
	app.logger.Info("Initializing domain services")

	var primarySender, telegramSender transport.Sender
	var telegramNotifier transport.Notifier
	if app.whatsappAdapter != nil {
		primarySender = app.whatsappAdapter
	}
	if app.telegramAdapter != nil {
		telegramSender = app.telegramAdapter
		telegramNotifier = app.telegramAdapter
	}

	router := NewTransportRouter(app.contactRepo, primarySender, telegramSender, app.logger)
	notifier := NewOwnerNotifier(app.config.Owner, primarySender, telegramNotifier, app.logger)

	pipeline := app.config.Pipeline

	app.promptBuilder = service.NewPromptBuilder(app.profileRepo)
	app.sessionTracker = service.NewSessionTracker(
		app.conversationRepo, app.contactRepo, app.reportRepo,
		pipeline.ConversationTimeout, app.logger)

	app.workerPool = queue.NewWorkerPool(app.queueStore, app.logger, nil,
		pipeline.WorkersMin, pipeline.WorkersMax, pipeline.TerminalTTL)

	// 固定工具集
	registry := domaintool.NewInMemoryRegistry()
	err := toolpkg.RegisterAll(registry, toolpkg.Deps{
		Contacts: app.contactRepo,
		Logs:     app.messageLogRepo,
		Profiles: app.profileRepo,
		Calendar: toolpkg.NewSimpleCalendar(app.profileRepo),
		Queue:    app.queueStore,
		Pool:     app.workerPool,
		Search:   nil, // TODO: wire a search provider once one is configured
		Logger:   app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	app.executor = toolpkg.NewExecutor(registry, app.logger)

	app.replyPipeline = service.NewReplyPipeline(
		app.config.Owner, app.contactRepo, app.messageLogRepo,
		app.promptBuilder, app.gateway, app.executor,
		router, notifier, app.sessionTracker,
		pipeline.MaxToolDepth, app.logger)
	app.workerPool.SetHandler(app.replyPipeline.Process)

	app.autoscaler = queue.NewAutoscaler(app.queueStore, app.workerPool, app.db, app.logger,
		queue.AutoscalerConfig{
			Interval:       pipeline.ScaleInterval,
			HighWatermark:  int64(pipeline.HighWatermark),
			LowWatermark:   int64(pipeline.LowWatermark),
			ErrorThreshold: pipeline.ErrorThreshold,
		}, app.gateway.KeysAvailable)

	app.reportWorker = service.NewReportWorker(
		app.reportRepo, app.conversationRepo, app.messageLogRepo,
		app.gateway, notifier, pipeline.MaxRetries, app.logger)

	app.intake = service.NewIntake(
		app.config.Owner, app.contactRepo, app.messageLogRepo,
		app.queueStore, app.sessionTracker, router,
		pipeline.DebounceWindow, pipeline.DebounceMaxBuffer, app.logger)

	// 传输层回调接入管线
	if app.whatsappAdapter != nil {
		app.whatsappAdapter.SetInboundHandler(app.intake.HandleInbound)
		app.whatsappAdapter.SetLifecycleHandler(app.onLifecycle)
	}
	if app.telegramAdapter != nil {
		app.telegramAdapter.SetInboundHandler(app.intake.HandleInbound)
	}

	// 管理 API
	admin := handlers.NewAdminHandler(
		app.contactRepo, app.messageLogRepo, app.profileRepo, app.reportRepo,
		adminPrimary(app.whatsappAdapter), adminSecondary(app.telegramAdapter),
		app.sessionLock, app.queueStore, app.workerPool, app.logger)
	app.httpServer = httpServer.NewServer(httpServer.Config{
		Host: app.config.HTTP.Host,
		Port: app.config.HTTP.Port,
		Mode: app.config.HTTP.Mode,
	}, admin, app.logger)

	return nil
}

// onLifecycle 主传输层生命周期事件
func (app *App) onLifecycle(ev transport.LifecycleEvent) {
	switch ev.Kind {
	case transport.LifecycleQRNeeded:
		app.logger.Info("扫码登录待处理")
	case transport.LifecycleConnected:
		app.logger.Info("主传输层已连接")
	case transport.LifecycleDisconnected:
		app.logger.Warn("主传输层断开", zap.String("reason", ev.Payload))
	case transport.LifecycleFatal:
		// 凭证已在适配器内清除，这里释放会话锁并通知 main 退出
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.sessionLock.Release(ctx); err != nil {
			app.logger.Error("会话锁释放失败", zap.Error(err))
		}
		select {
		case app.fatal <- ev.Payload:
		default:
		}
	}
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	// 会话锁先到先得，拿不到直接退出避免双进程抢会话
	if err := app.sessionLock.Acquire(ctx); err != nil {
		return fmt.Errorf("session lock: %w", err)
	}

	app.gateway.Start()

	if err := app.workerPool.Start(ctx, app.config.Pipeline.WorkersInitial); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	app.autoscaler.Start()
	app.reportWorker.Start()

	if app.whatsappAdapter != nil {
		app.whatsappAdapter.Start()
	}
	if app.telegramAdapter != nil {
		app.telegramAdapter.Start()
	}
	app.httpServer.Start()

	app.logger.Info("Application started")
	return nil
}

// Stop 停止应用程序，入站先停、队列后停，尽量不丢在途批次
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Warn("HTTP 服务停止出错", zap.Error(err))
	}
	if app.whatsappAdapter != nil {
		app.whatsappAdapter.Stop()
	}
	if app.telegramAdapter != nil {
		app.telegramAdapter.Stop()
	}

	app.intake.Close()
	app.workerPool.Stop()
	app.reportWorker.Stop()
	app.autoscaler.Stop()
	app.gateway.Stop()
	app.sessionTracker.Stop()

	if err := app.sessionLock.Release(ctx); err != nil {
		app.logger.Warn("会话锁释放失败", zap.Error(err))
	}

	app.logger.Info("Application stopped")
	return nil
}

// adminPrimary 适配器为 nil 时给管理 API 一个 nil 接口
func adminPrimary(a *whatsapp.Adapter) handlers.PrimaryTransport {
	if a == nil {
		return nil
	}
	return a
}

func adminSecondary(a *telegram.Adapter) handlers.SecondaryTransport {
	if a == nil {
		return nil
	}
	return a
}
