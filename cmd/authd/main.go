// authd serves the AfriConnect Exchange auth API: Postgres for accounts
// and the notification journal, Redis for sessions, tokens, and rate
// counters, SMTP for email, and an optional RabbitMQ queue feeding the SMS
// gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"

	"github.com/AfriConnectExchange/authcore"
	"github.com/AfriConnectExchange/authcore/internal/httpapi"
	"github.com/AfriConnectExchange/authcore/logging"
	"github.com/AfriConnectExchange/authcore/notify"
	"github.com/AfriConnectExchange/authcore/notify/amqpqueue"
	"github.com/AfriConnectExchange/authcore/notify/smtp"
	"github.com/AfriConnectExchange/authcore/pgstore"
)

type config struct {
	Env  string `yaml:"env" env:"ENV" env-default:"local"`
	HTTP struct {
		Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
		Timeout     time.Duration `yaml:"timeout" env-default:"10s"`
		IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	} `yaml:"http"`
	Postgres struct {
		DSN string `yaml:"dsn" env:"POSTGRES_DSN" env-required:"true"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	} `yaml:"redis"`
	SMTP struct {
		Host     string `yaml:"host" env:"SMTP_HOST" env-required:"true"`
		Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
		Username string `yaml:"username" env:"SMTP_USERNAME" env-required:"true"`
		Password string `yaml:"password" env:"SMTP_PASSWORD" env-required:"true"`
		From     string `yaml:"from" env:"SMTP_FROM"`
	} `yaml:"smtp"`
	SMSQueue struct {
		URL   string `yaml:"url" env:"SMS_QUEUE_URL"`
		Queue string `yaml:"queue" env:"SMS_QUEUE_NAME" env-default:"sms_outbound"`
	} `yaml:"sms_queue"`
	CSRFSecret    string        `yaml:"csrf_secret" env:"CSRF_SECRET" env-required:"true"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"1h"`
}

func loadConfig() (config, error) {
	var cfg config

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/authd.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := "info"
	if cfg.Env == "local" {
		level = "debug"
	}
	log := logging.NewJSON(level)
	log.Info(context.Background(), "starting authd", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info(ctx, "shutdown signal received")
		cancel()
	}()

	if err := pgstore.Migrate(ctx, cfg.Postgres.DSN); err != nil {
		return err
	}
	pool, err := pgstore.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	var sms notify.SMSSender
	if cfg.SMSQueue.URL != "" {
		publisher, err := amqpqueue.New(cfg.SMSQueue.URL, cfg.SMSQueue.Queue)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sms = publisher
	}

	engineCfg := authcore.DefaultConfig()
	engineCfg.CSRFSecret = []byte(cfg.CSRFSecret)

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithAccountStore(pgstore.NewAccounts(pool)).
		WithNotificationLog(pgstore.NewNotificationLog(pool)).
		WithEmailSender(smtp.New(smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})).
		WithSMSSender(sms).
		WithAuditSink(authcore.NewJSONWriterSink(os.Stdout)).
		WithLogger(log).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	// Expired sessions keep failing validation either way; the sweep just
	// keeps the store tidy.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := engine.SweepExpiredSessions(ctx); err != nil {
					log.Warn(ctx, "session sweep failed", "error", err)
				} else if n > 0 {
					log.Info(ctx, "sessions swept", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      httpapi.New(engine, log).Router(),
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info(ctx, "http server listening", "address", cfg.HTTP.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "http shutdown failed", "error", err)
	}

	log.Info(context.Background(), "authd stopped")
	return nil
}
