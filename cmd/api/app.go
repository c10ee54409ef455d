package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"supportdesk-backend/internal/mail/classify"
	maildomain "supportdesk-backend/internal/mail/domain"
	mailRepo "supportdesk-backend/internal/mail/repository"
	mailUsecase "supportdesk-backend/internal/mail/usecase"
	"supportdesk-backend/internal/queue/backoff"
	queuedomain "supportdesk-backend/internal/queue/domain"
	queueRepo "supportdesk-backend/internal/queue/repository"
	"supportdesk-backend/internal/queue/schema"
	queueUsecase "supportdesk-backend/internal/queue/usecase"
	reconciledomain "supportdesk-backend/internal/reconcile/domain"
	reconcileRepo "supportdesk-backend/internal/reconcile/repository"
	reconcileUsecase "supportdesk-backend/internal/reconcile/usecase"
	"supportdesk-backend/internal/token"
	"supportdesk-backend/pkg/ai"
	"supportdesk-backend/pkg/cdr"
	"supportdesk-backend/pkg/commerce"
	"supportdesk-backend/pkg/config"
	"supportdesk-backend/pkg/crypto"
	"supportdesk-backend/pkg/imap"
	"supportdesk-backend/pkg/smtp"
)

// App is the wired worker shared by the HTTP gateway and cmd/worker
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Queue  queueUsecase.QueueUsecase
	redis  *redis.Client
}

// Models lists every table the worker owns
func Models() []interface{} {
	return []interface{}{
		&queuedomain.Job{},
		&token.ExternalToken{},
		&reconciledomain.SyncWatermark{},
		&reconciledomain.Customer{},
		&reconciledomain.Order{},
		&reconciledomain.Return{},
		&reconciledomain.Call{},
		&reconciledomain.TimelineEvent{},
		&maildomain.Mail{},
		&maildomain.DraftReply{},
		&maildomain.AssistantSettings{},
	}
}

// NewApp builds adapters, handlers and the dispatcher on top of db
func NewApp(cfg *config.Config, db *gorm.DB) (*App, error) {
	app := &App{Config: cfg, DB: db}

	validator, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("load payload schemas: %w", err)
	}
	jobs := queueRepo.NewJobRepository(db, validator,
		queueRepo.WithBackoff(backoff.NewExponential(cfg.QueueBackoffInitial, cfg.QueueBackoffMax)),
	)

	// Token cache: Redis when configured, otherwise the database
	var tokenStore token.Store
	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			log.Printf("[WARN] Redis unavailable, caching provider tokens in the database: %v", err)
			tokenStore = token.NewGormStore(db)
		} else {
			app.redis = client
			tokenStore = token.NewRedisStore(client)
			log.Println("[App] Provider tokens cached in Redis")
		}
	} else {
		tokenStore = token.NewGormStore(db)
	}
	tokens := token.NewManager(tokenStore)

	commerceClient := commerce.NewClient(commerce.ClientOptions{
		BaseURL:      cfg.CommerceBaseURL,
		TokenURL:     cfg.CommerceTokenURL,
		ClientID:     cfg.CommerceClientID,
		ClientSecret: cfg.CommerceClientSecret,
	})
	tokens.Register(reconcileUsecase.CommerceProvider, token.Provider{
		Source: commerceClient,
		IsUnauthorized: func(err error) bool {
			return errors.Is(err, commerce.ErrUnauthorized)
		},
	})

	completer, err := ai.NewCompleter(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		Model:         cfg.AIModel,
		GeminiAPIKey:  cfg.GeminiApiKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	})
	if err != nil {
		return nil, fmt.Errorf("init AI completer: %w", err)
	}

	var box *crypto.Box
	if cfg.SettingsSecretKey != "" {
		box, err = crypto.NewBox(cfg.SettingsSecretKey)
		if err != nil {
			return nil, err
		}
	} else {
		log.Println("[WARN] SETTINGS_SECRET_KEY not set. Operator API keys in assistant settings are ignored.")
	}

	var alerter queueUsecase.DeadJobAlerter
	if cfg.SMTPHost != "" && cfg.AlertEmail != "" {
		sender, err := smtp.NewSender(smtp.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("init smtp sender: %w", err)
		}
		alerter = queueUsecase.NewMailAlerter(sender, cfg.AlertEmail)
	} else {
		log.Println("[WARN] SMTP or ALERT_EMAIL not configured. Dead-job alerts disabled.")
	}

	engine := reconcileRepo.NewEngine(db)
	watermarks := reconcileRepo.NewWatermarkRepository(db)
	mails := mailRepo.NewMailRepository(db)

	mailbox := imap.NewService(imap.Config{
		Server:   cfg.ImapServer,
		Port:     cfg.ImapPort,
		User:     cfg.ImapUser,
		Password: cfg.ImapPassword,
	})
	mailFetch := mailUsecase.NewMailFetch(mailbox, mails, watermarks, jobs,
		classify.NewClassifier(classify.DefaultRules), cfg.ImapMailbox)
	aiReply := mailUsecase.NewAIReply(mails, mailRepo.NewDraftReplyRepository(db), mailRepo.NewSettingsRepository(db),
		box, commerceClient, tokens, completer, mailUsecase.ReplyDefaults{
			Provider: cfg.AIProvider,
			Model:    cfg.AIModel,
		})
	returnSync := reconcileUsecase.NewReturnSync(commerceClient, tokens, engine, watermarks)
	callSync := reconcileUsecase.NewCallSync(cdr.NewClient(cdr.ClientOptions{
		BaseURL: cfg.CDRBaseURL,
		APIKey:  cfg.CDRApiKey,
	}), engine, watermarks, cfg.CallSyncWindow)

	registry := queueUsecase.NewRegistry()
	queueUsecase.RegisterDefinition(registry, &queueUsecase.Definition[queuedomain.MailFetchPayload]{
		Type:    queuedomain.JobTypeMailFetch,
		Handler: mailFetch.Handle,
	})
	queueUsecase.RegisterDefinition(registry, &queueUsecase.Definition[queuedomain.AIReplyPayload]{
		Type:    queuedomain.JobTypeAIReply,
		Handler: aiReply.Handle,
		Timeout: 90 * time.Second,
	})
	queueUsecase.RegisterDefinition(registry, &queueUsecase.Definition[queuedomain.ReturnSyncPayload]{
		Type:    queuedomain.JobTypeReturnSync,
		Handler: returnSync.Handle,
	})
	queueUsecase.RegisterDefinition(registry, &queueUsecase.Definition[queuedomain.CallSyncPayload]{
		Type:    queuedomain.JobTypeCallSync,
		Handler: callSync.Handle,
	})

	dispatcher := queueUsecase.NewDispatcher(jobs, registry, alerter, queueUsecase.DispatcherConfig{
		Lease:       cfg.QueueLease,
		JobTimeout:  cfg.QueueJobTimeout,
		Concurrency: cfg.QueueConcurrency,
	})
	app.Queue = queueUsecase.NewQueueUsecase(jobs, dispatcher, queueUsecase.DefaultRecurring(), queueUsecase.QueueConfig{
		MaxBatch:    cfg.QueueMaxBatch,
		StatsWindow: cfg.QueueStatsWindow,
	})
	log.Printf("[App] Registered job types: %v", registry.Types())
	return app, nil
}

// Close releases connections opened by NewApp
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
