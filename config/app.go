// Package config 提供应用程序配置和初始化功能
// 该包负责处理配置加载、依赖组装与Fiber应用的创建
package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"payment_recon/database"
	"payment_recon/handlers"
	"payment_recon/logger"
	"payment_recon/middleware"
	"payment_recon/repository"
	"payment_recon/routes"
	"payment_recon/services"
	"payment_recon/utils"
)

// Container 组装好的依赖
type Container struct {
	Settings *Settings
	DB       *gorm.DB
	Handler  *handlers.Handler

	closers []func()
}

// InitApp 初始化整个应用程序
// 1. 建立数据库连接并迁移
// 2. 组装业务服务
func InitApp(settings *Settings) (*Container, error) {
	db, err := database.Init(settings.Database())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return NewContainer(settings, db)
}

// NewContainer 基于已有的数据库连接组装服务
func NewContainer(settings *Settings, db *gorm.DB) (*Container, error) {
	log := logger.WithComponent("app")

	secret, err := utils.ResolveJWTSecret(settings.JWTSecret, settings.Env)
	if err != nil {
		return nil, err
	}

	c := &Container{Settings: settings, DB: db}

	audit := services.NewAuditService(db)
	store := repository.NewPaymentRepository(db)
	engine := services.NewPaymentEngine(store, audit, c.notifier())

	c.Handler = &handlers.Handler{
		DB:     db,
		Auth:   services.NewAuthService(db, utils.NewTokenIssuer(secret, settings.JWTTokenTTL), c.loginLimiter(), audit),
		Users:  services.NewUserService(db, audit),
		Engine: engine,
		Audit:  audit,
		Import: services.NewImportService(store, audit),
		Export: services.NewExportService(store, audit),
	}

	log.Info().Str("env", settings.Env).Msg("应用程序初始化完成")
	return c, nil
}

// Close 释放后台资源
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// notifier 配置了Telegram时使用Telegram，否则只记日志
func (c *Container) notifier() services.Notifier {
	s := c.Settings
	if s.TelegramBotToken == "" || s.TelegramChatID == "" {
		return services.NewNoopNotifier()
	}

	loc, err := time.LoadLocation(s.NotifyTimezone)
	if err != nil {
		log := logger.WithComponent("app")
		log.Warn().Err(err).Str("timezone", s.NotifyTimezone).Msg("时区无效，使用UTC")
		loc = time.UTC
	}
	return services.NewTelegramNotifier(services.TelegramConfig{
		APIBase:  s.TelegramAPIBase,
		BotToken: s.TelegramBotToken,
		ChatID:   s.TelegramChatID,
		Location: loc,
	})
}

// loginLimiter 配置了Redis时多实例共享登录失败计数，Redis不可用时退回进程内计数
func (c *Container) loginLimiter() utils.AttemptLimiter {
	s := c.Settings
	log := logger.WithComponent("app")

	if s.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := rdb.Ping(ctx).Err()
		if err == nil {
			c.closers = append(c.closers, func() { _ = rdb.Close() })
			log.Info().Str("addr", s.RedisAddr).Msg("登录限制使用Redis")
			return utils.NewRedisLoginLimiter(rdb, s.LoginMaxAttempts, s.LoginLockTime)
		}
		log.Warn().Err(err).Str("addr", s.RedisAddr).Msg("Redis不可用，登录限制使用进程内计数")
		_ = rdb.Close()
	}

	l := utils.NewLoginLimiter(s.LoginMaxAttempts, s.LoginLockTime, 10*time.Minute)
	c.closers = append(c.closers, l.Close)
	return l
}

// SetupApp 创建并配置Fiber应用实例
// 全局中间件：请求日志、panic恢复、安全头、CORS、请求ID、耗时指标；/api 另加限流
func SetupApp(settings *Settings, h *handlers.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ServerHeader:  "Payment Recon",
		BodyLimit:     settings.UploadLimitBytes,
		ErrorHandler:  ErrorHandler,
		JSONEncoder:   json.Marshal,
		JSONDecoder:   json.Unmarshal,
		Immutable:     true,
		AppName:       "Payment Recon API",
		ReadTimeout:   60 * time.Second, // 读取超时时间，防止慢客户端攻击
		WriteTimeout:  60 * time.Second,
		IdleTimeout:   60 * time.Second,
	})

	app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "${time} ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		Output:     os.Stdout,
	}))
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: settings.CORSOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		MaxAge:       int(12 * time.Hour.Seconds()),
	}))
	app.Use(middleware.RequestContext())
	app.Use(middleware.Metrics())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        settings.RateLimitMax,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return utils.TooManyRequests("请求过于频繁，请稍后再试")
		},
	}))
	routes.SetupRoutes(app, api, h)

	return app
}

// ErrorHandler 把业务错误转换为 {"error": 文案, "kind": 种类}
// 内部错误只记录日志，对外返回固定文案
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
			"kind":  kindForStatus(fiberErr.Code),
		})
	}

	appErr := utils.AsAppError(err)
	if appErr.Kind == utils.KindInternal {
		requestID, _ := c.Locals(middleware.LocalRequestID).(string)
		log := logger.WithComponent("http")
		log.Error().Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("request_id", requestID).
			Msg("请求处理失败")
	}
	return c.Status(appErr.Code).JSON(fiber.Map{
		"error": appErr.Message,
		"kind":  appErr.Kind,
	})
}

func kindForStatus(code int) utils.ErrorKind {
	switch code {
	case fiber.StatusUnauthorized:
		return utils.KindUnauthorized
	case fiber.StatusForbidden:
		return utils.KindForbidden
	case fiber.StatusNotFound:
		return utils.KindNotFound
	case fiber.StatusUnprocessableEntity:
		return utils.KindUnprocessable
	case fiber.StatusTooManyRequests:
		return utils.KindTooManyRequests
	case fiber.StatusInternalServerError:
		return utils.KindInternal
	default:
		return utils.KindBadRequest
	}
}
