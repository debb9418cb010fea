package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"rulewatch/internal/audit"
	"rulewatch/internal/config"
	"rulewatch/internal/executor"
	"rulewatch/internal/httpapi"
	"rulewatch/internal/incident"
	"rulewatch/internal/notifier"
	"rulewatch/internal/permission"
	"rulewatch/internal/repository"
	"rulewatch/internal/scheduler"
	"rulewatch/internal/store"
	"rulewatch/internal/stream"
)

// Service 监控服务（整合各层）
type Service struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	sources     map[string]*sql.DB
	logger      *zap.Logger

	// 各层组件
	rulesRepo      *repository.RulesRepository
	executionsRepo *repository.ExecutionsRepository
	queueRepo      *repository.QueueRepository
	incidentsRepo  *repository.IncidentsRepository
	eventsRepo     *repository.IncidentEventsRepository
	permsRepo      *repository.PermissionsRepository
	usersRepo      *repository.UsersRepository
	notifsRepo     *repository.NotificationsRepository
	auditRepo      *repository.AuditRepository

	auditor    *audit.Logger
	resolver   *permission.Resolver
	dispatcher *notifier.Dispatcher
	manager    *incident.Manager
	scheduler  *scheduler.Scheduler
	workers    []*executor.Worker

	httpServer *http.Server
	wg         sync.WaitGroup
}

// New 创建监控服务
func New(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	// 1. 连接主库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 打开规则查询的目标数据源；未配置时主库兼任 "primary"
	sources := make(map[string]*sql.DB)
	for name, dsn := range cfg.TargetSources {
		src, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open target source %s: %w", name, err)
		}
		if err := src.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping target source %s: %w", name, err)
		}
		sources[name] = src
	}
	if _, ok := sources["primary"]; !ok {
		sources["primary"] = db
	}

	s := &Service{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		sources:     sources,
		logger:      logger,
	}

	// 4. Repository 层
	s.rulesRepo = repository.NewRulesRepository(db, logger)
	s.executionsRepo = repository.NewExecutionsRepository(db, logger)
	s.queueRepo = repository.NewQueueRepository(db, logger)
	s.incidentsRepo = repository.NewIncidentsRepository(db, logger)
	s.eventsRepo = repository.NewIncidentEventsRepository(db, logger)
	s.permsRepo = repository.NewPermissionsRepository(db, logger)
	s.usersRepo = repository.NewUsersRepository(db, logger)
	s.notifsRepo = repository.NewNotificationsRepository(db, logger)
	s.auditRepo = repository.NewAuditRepository(db, logger)

	// 5. 业务组件
	kv := store.NewRedisKV(redisClient)
	s.auditor = audit.NewLogger(s.auditRepo, logger)
	s.resolver = permission.NewResolver(s.permsRepo, s.usersRepo, kv, s.auditor, logger)

	pushClient := notifier.NewGatewayClient(cfg.Push.GatewayURL, cfg.Push.APIKey, logger)
	s.dispatcher = notifier.NewDispatcher(s.usersRepo, s.notifsRepo, pushClient, kv, s.auditor, logger)

	publisher := stream.NewPublisher(redisClient, cfg.Stream.IncidentStream, logger)
	s.manager = incident.NewManager(s.incidentsRepo, s.eventsRepo, s.rulesRepo, s.queueRepo, s.dispatcher, s.auditor, publisher, logger)

	// 6. 调度与执行
	s.scheduler = scheduler.New(s.rulesRepo, s.executionsRepo, s.queueRepo,
		time.Duration(cfg.Scheduler.TickInterval)*time.Second, logger)

	runner := executor.NewSQLRunner(sources, time.Duration(cfg.Executor.QueryTimeout)*time.Second, logger)
	for i := 0; i < cfg.Executor.Workers; i++ {
		worker := executor.NewWorker(
			fmt.Sprintf("worker-%d", i),
			s.queueRepo, s.rulesRepo, s.executionsRepo, runner, s.manager,
			time.Duration(cfg.Executor.PollInterval)*time.Second,
			logger,
		)
		s.workers = append(s.workers, worker)
	}

	// 7. HTTP 层
	router := httpapi.NewRouter(logger)
	router.RegisterRoutes(
		httpapi.NewRulesHandler(s.rulesRepo, s.executionsRepo, s.auditor, logger),
		httpapi.NewIncidentsHandler(s.manager, s.incidentsRepo, s.eventsRepo, s.notifsRepo, logger),
		httpapi.NewPermissionsHandler(s.resolver, s.permsRepo, logger),
		httpapi.NewNotificationsHandler(s.dispatcher, logger),
		httpapi.NewAuditHandler(s.auditRepo, logger),
	)
	s.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s, nil
}

// Start 启动调度器、worker 和 HTTP 服务
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting rulewatch service",
		zap.Int("workers", len(s.workers)),
		zap.String("http_addr", s.config.HTTP.Addr),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(ctx)
	}()

	for _, worker := range s.workers {
		w := worker
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(ctx)
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Stop 优雅停止
func (s *Service) Stop() error {
	s.logger.Info("Stopping rulewatch service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shut down http server", zap.Error(err))
	}

	// 等调度器和 worker 退出
	s.wg.Wait()

	for name, src := range s.sources {
		if src == s.db {
			continue
		}
		if err := src.Close(); err != nil {
			s.logger.Error("Failed to close target source",
				zap.String("name", name),
				zap.Error(err),
			)
		}
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}
