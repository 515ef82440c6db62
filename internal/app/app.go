// Package app wires the bot from a loaded config. Both the Lambda entrypoint
// and the realtybot CLI build on it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"realty-bot/internal/botgate"
	"realty-bot/internal/config"
	"realty-bot/internal/integrations/openai"
	"realty-bot/internal/integrations/paramstore"
	"realty-bot/internal/integrations/sentry"
	"realty-bot/internal/integrations/uazapi"
	"realty-bot/internal/locker"
	"realty-bot/internal/repository"
	"realty-bot/internal/usecase"
)

const flushTimeout = 2 * time.Second

// App holds the wired services and the resources Close releases.
type App struct {
	Store      *repository.Store
	Inbound    *usecase.InboundService
	BotControl *usecase.BotControl

	db       *gorm.DB
	redis    *redis.Client
	locker   usecase.Locker
	reporter *sentry.Reporter
	log      *slog.Logger
}

// NewLogger builds the process logger from the log section of the config.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Build connects every dependency named by cfg. On error, whatever was
// already opened is released.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load aws config: %w", err)
	}

	params, err := newParams(cfg.Params, awsCfg)
	if err != nil {
		return nil, err
	}

	a.db, err = repository.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.Store, err = repository.NewStore(a.db)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := a.Store.AutoMigrate(ctx); err != nil {
			return nil, err
		}
		log.Info("record store migrated")
	}

	dynamo := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.Sessions.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Sessions.Endpoint)
		}
	})
	sessions, err := repository.NewSessionStore(dynamo, cfg.Sessions.Table)
	if err != nil {
		return nil, err
	}

	var llmOpts []openai.Option
	if cfg.OpenAI.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	llm, err := openai.NewClient(params, cfg.Params.Prefix, llmOpts...)
	if err != nil {
		return nil, err
	}
	gw, err := uazapi.NewClient(cfg.UAZAPI.BaseURL, params, cfg.Params.Prefix)
	if err != nil {
		return nil, err
	}

	gate := botgate.New(cfg.Bot.PauseWindow)

	conversation, err := usecase.NewConversation(usecase.ConversationDeps{
		Params:       params,
		LLM:          llm,
		Sessions:     sessions,
		Interactions: a.Store,
		Listings:     a.Store,
		Leads:        a.Store,
		Gateway:      gw,
		Logger:       log,
	}, usecase.ConversationOptions{
		ParamPrefix:  cfg.Params.Prefix,
		MaxRounds:    cfg.Bot.MaxRounds,
		HistoryLimit: cfg.Bot.HistoryLimit,
		CallTimeout:  cfg.Bot.CallTimeout,
	})
	if err != nil {
		return nil, err
	}

	deps := usecase.InboundDeps{
		Tenants:      a.Store,
		Leads:        a.Store,
		Interactions: a.Store,
		Conversation: conversation,
		Gateway:      gw,
		Gate:         gate,
		Logger:       log,
	}
	if a.locker, err = a.newLocker(cfg); err != nil {
		return nil, err
	}
	deps.Locker = a.locker
	if cfg.Sentry.DSN != "" {
		a.reporter, err = sentry.New(sentry.Options{
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Environment,
			Release:     cfg.Sentry.Release,
		})
		if err != nil {
			return nil, fmt.Errorf("app: sentry: %w", err)
		}
		deps.Reporter = a.reporter
	}
	a.Inbound, err = usecase.NewInboundService(deps, cfg.Bot.TurnBudget)
	if err != nil {
		return nil, err
	}

	a.BotControl, err = usecase.NewBotControl(a.Store, a.Store, gw, gate, a.locker, log)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newParams(cfg config.ParamsConfig, awsCfg aws.Config) (paramstore.Getter, error) {
	if cfg.Source == "static" {
		return paramstore.Static(cfg.Static), nil
	}
	return paramstore.New(awsssm.NewFromConfig(awsCfg))
}

// newLocker returns the Redis lock when an address is configured and the
// in-process one otherwise.
func (a *App) newLocker(c *config.Config) (usecase.Locker, error) {
	if !c.RedisEnabled() {
		a.log.Info("per-lead lock is in-process")
		return locker.NewKeyed(), nil
	}
	cfg := c.Redis
	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	l, err := locker.NewRedis(a.redis, locker.WithLease(cfg.LockLease), locker.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	a.log.Info("per-lead lock is shared", "redis_addr", cfg.Addr)
	return l, nil
}

// Flush waits for pending error reports. Lambda calls it after every
// invocation.
func (a *App) Flush() {
	if a.reporter != nil {
		a.reporter.Flush(flushTimeout)
	}
}

// Close flushes pending error reports and releases connections.
func (a *App) Close() {
	a.Flush()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close failed", "err", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
