package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	bookingmongo "github.com/royalbadminton/streakbot/features/booking/mongo"
	bookingclients "github.com/royalbadminton/streakbot/features/booking/mongo/clients/mongo"
	"github.com/royalbadminton/streakbot/features/model/anthropic"
	"github.com/royalbadminton/streakbot/features/model/bedrock"
	"github.com/royalbadminton/streakbot/features/model/middleware"
	"github.com/royalbadminton/streakbot/features/model/openai"
	redisledger "github.com/royalbadminton/streakbot/features/notify/redis"
	"github.com/royalbadminton/streakbot/features/notify/twilio"
	runlogmongo "github.com/royalbadminton/streakbot/features/runlog/mongo"
	runlogclients "github.com/royalbadminton/streakbot/features/runlog/mongo/clients/mongo"
	pulsesink "github.com/royalbadminton/streakbot/features/stream/pulse"
	pulseclient "github.com/royalbadminton/streakbot/features/stream/pulse/clients/pulse"
	"github.com/royalbadminton/streakbot/runtime/actions"
	"github.com/royalbadminton/streakbot/runtime/agent/model"
	"github.com/royalbadminton/streakbot/runtime/agent/runlog"
	runloginmem "github.com/royalbadminton/streakbot/runtime/agent/runlog/inmem"
	agentruntime "github.com/royalbadminton/streakbot/runtime/agent/runtime"
	"github.com/royalbadminton/streakbot/runtime/agent/stream"
	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
	"github.com/royalbadminton/streakbot/runtime/booking"
	bookinginmem "github.com/royalbadminton/streakbot/runtime/booking/inmem"
	"github.com/royalbadminton/streakbot/runtime/notify"
	notifyinmem "github.com/royalbadminton/streakbot/runtime/notify/inmem"
	"github.com/royalbadminton/streakbot/runtime/streak"
)

type dependencies struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	bookings booking.Store
	runs     runlog.Store
	ledger   notify.Ledger
	sender   notify.Sender
	sink     stream.Sink
	pingers  []health.Pinger

	closers []func(context.Context) error
}

// newDependencies connects the configured backends. Backends that are not
// configured fall back to in-process implementations.
func newDependencies(ctx context.Context, cfg *config) (*dependencies, error) {
	d := &dependencies{
		logger:  telemetry.NewClueLogger(),
		metrics: telemetry.NewOTelMetrics(),
		tracer:  telemetry.NewOTelTracer(),
	}
	if err := d.connectMongo(ctx, cfg); err != nil {
		d.close(ctx)
		return nil, err
	}
	if err := d.connectRedis(ctx, cfg); err != nil {
		d.close(ctx)
		return nil, err
	}
	if err := d.buildSender(ctx, cfg); err != nil {
		d.close(ctx)
		return nil, err
	}
	return d, nil
}

func (d *dependencies) connectMongo(ctx context.Context, cfg *config) error {
	if cfg.Mongo.URL == "" {
		log.Printf(ctx, "MONGODB_URL not set, keeping bookings and runs in memory")
		d.bookings = bookinginmem.New()
		d.runs = runloginmem.New()
		return nil
	}
	client, err := mongodriver.Connect(options.Client().ApplyURI(cfg.Mongo.URL))
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	d.closers = append(d.closers, client.Disconnect)

	bookings, err := bookingmongo.NewStoreFromMongo(bookingclients.Options{
		Client:     client,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
		Timeout:    cfg.Mongo.Timeout,
	})
	if err != nil {
		return fmt.Errorf("booking store: %w", err)
	}
	runs, err := runlogmongo.NewStoreFromMongo(runlogclients.Options{
		Client:     client,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Runs,
		Timeout:    cfg.Mongo.Timeout,
	})
	if err != nil {
		return fmt.Errorf("run store: %w", err)
	}
	d.bookings = bookings
	d.runs = runs
	d.pingers = append(d.pingers, bookings.Client(), runs.Client())
	return nil
}

func (d *dependencies) connectRedis(ctx context.Context, cfg *config) error {
	if cfg.Redis.URL == "" {
		d.ledger = notifyinmem.NewLedger()
		d.sink = stream.NoopSink{}
		return nil
	}
	opts := &goredis.Options{Addr: cfg.Redis.URL}
	if strings.Contains(cfg.Redis.URL, "://") {
		parsed, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	rdb := goredis.NewClient(opts)
	d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	ledger, err := redisledger.New(redisledger.Options{Redis: rdb, TTL: cfg.Redis.LedgerTTL})
	if err != nil {
		return err
	}
	pc, err := pulseclient.New(pulseclient.Options{
		Redis:            rdb,
		StreamMaxLen:     1000,
		OperationTimeout: 2 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("pulse client: %w", err)
	}
	sink, err := pulsesink.NewSink(pulsesink.Options{Client: pc})
	if err != nil {
		return fmt.Errorf("pulse sink: %w", err)
	}
	d.closers = append(d.closers, sink.Close, pc.Close)
	d.ledger = ledger
	d.sink = sink
	d.pingers = append(d.pingers, ledger)
	return nil
}

func (d *dependencies) buildSender(ctx context.Context, cfg *config) error {
	var sender notify.Sender
	if cfg.Twilio.AccountSID == "" {
		log.Printf(ctx, "Twilio credentials not set, reminders are simulated")
		sender = notify.NewSimulated(d.logger)
	} else {
		tw, err := twilio.New(twilio.Options{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			From:       cfg.Twilio.From,
			Logger:     d.logger,
		})
		if err != nil {
			return err
		}
		sender = tw
	}
	d.sender = notify.Throttle(notify.PerMinute(cfg.Twilio.SendsPerMinute, 1))(sender)
	return nil
}

// close releases backends in reverse order of acquisition.
func (d *dependencies) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			log.Printf(ctx, "close: %v", err)
		}
	}
	d.closers = nil
}

// newChecker assembles the streak checker for the configured mode.
func newChecker(ctx context.Context, cfg *config, d *dependencies) (*streak.Checker, error) {
	mode, err := streak.ParseMode(cfg.Check.Mode)
	if err != nil {
		return nil, err
	}
	exec, err := actions.New(actions.Options{
		Store:  d.bookings,
		Sender: d.sender,
		Ledger: d.ledger,
		Logger: d.logger,
	})
	if err != nil {
		return nil, err
	}
	opts := streak.CheckerOptions{
		Mode:          mode,
		Runs:          d.runs,
		PortalURL:     cfg.Check.PortalURL,
		LookbackWeeks: cfg.Check.LookbackWeeks,
		MinSessions:   cfg.Check.MinSessions,
		RunTimeout:    cfg.Model.RunTimeout,
		Location:      cfg.location,
		Logger:        d.logger,
	}
	switch mode {
	case streak.ModeAgent:
		client, err := newModelClient(cfg, d)
		if err != nil {
			return nil, err
		}
		limiter := middleware.NewAdaptiveRateLimiter(cfg.Model.InitialTPM, cfg.Model.MaxTPM, d.metrics)
		rt, err := agentruntime.New(limiter.Middleware()(client), exec,
			agentruntime.WithModelID(cfg.modelID()),
			agentruntime.WithMaxTurns(cfg.Model.MaxTurns),
			agentruntime.WithToolTimeout(cfg.Model.ToolTimeout),
			agentruntime.WithRunTimeout(cfg.Model.RunTimeout),
			agentruntime.WithMaxTokens(cfg.Model.MaxTokens),
			agentruntime.WithTemperature(cfg.Model.Temperature),
			agentruntime.WithStream(d.sink),
			agentruntime.WithLogger(d.logger),
			agentruntime.WithMetrics(d.metrics),
			agentruntime.WithTracer(d.tracer),
		)
		if err != nil {
			return nil, err
		}
		opts.Loop = rt
		log.Print(ctx, log.KV{K: "provider", V: cfg.Model.Provider}, log.KV{K: "model", V: cfg.modelID()})
	case streak.ModeDeterministic:
		opts.Detector = streak.NewDetector(d.bookings, d.logger)
		opts.Reminders = exec
	}
	return streak.NewChecker(opts)
}

func newModelClient(cfg *config, d *dependencies) (model.Client, error) {
	switch cfg.Model.Provider {
	case providerAnthropic:
		return anthropic.NewFromAPIKey(cfg.Anthropic.APIKey, anthropic.Options{
			DefaultModel: cfg.modelID(),
			MaxTokens:    cfg.Model.MaxTokens,
			Temperature:  float64(cfg.Model.Temperature),
		})
	case providerOpenAI:
		return openai.NewFromAPIKey(cfg.OpenAI.APIKey, cfg.modelID())
	case providerBedrock:
		return bedrock.NewFromCredentials(bedrock.StaticCredentials{
			Region:          cfg.Bedrock.Region,
			AccessKeyID:     cfg.Bedrock.AccessKeyID,
			SecretAccessKey: cfg.Bedrock.SecretAccessKey,
			SessionToken:    cfg.Bedrock.SessionToken,
		}, bedrock.Options{
			DefaultModel: cfg.modelID(),
			MaxTokens:    cfg.Model.MaxTokens,
			Temperature:  cfg.Model.Temperature,
			Logger:       d.logger,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}
