// Command streakbot runs the daily court-booking streak check.
//
// Every evening the service looks at the booking history, finds regular
// players who have not booked their usual weekday court today and sends them
// a WhatsApp reminder. It also serves a small HTTP API for recording
// bookings, inspecting past runs and triggering a check on demand.
//
// # Configuration
//
// Settings are read from the YAML file named by STREAKBOT_CONFIG (optional)
// and then overridden by environment variables:
//
//	HTTP_ADDR               - HTTP listen address (default: ":8000")
//	MONGODB_URL             - MongoDB URI; bookings are kept in memory when unset
//	DB_NAME                 - database name (default: "badminton_club")
//	COLLECTION_NAME         - bookings collection (default: "bookings")
//	REDIS_URL               - Redis address or URL; enables the shared reminder
//	                          ledger and run event streams
//	CHECK_MODE              - "agent" (default) or "deterministic"
//	CHECK_SCHEDULE          - cron expression (default: "0 22 * * *")
//	CLUB_TIMEZONE           - IANA time zone of the schedule (default: "UTC")
//	MODEL_PROVIDER          - "anthropic", "openai" or "bedrock"
//	MODEL_ID                - model identifier (provider default when unset)
//	TWILIO_ACCOUNT_SID      - Twilio credentials; reminders are simulated when
//	TWILIO_AUTH_TOKEN         unset
//	TWILIO_WHATSAPP_NUMBER  - sender address (default: "whatsapp:+14155238886")
//
// # Example
//
//	CHECK_MODE=deterministic go run ./cmd/streakbot -debug
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/royalbadminton/streakbot/runtime/agent/runlog"
	"github.com/royalbadminton/streakbot/runtime/schedule"
)

func main() {
	var (
		addrF = flag.String("http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
		dbgF  = flag.Bool("debug", false, "Log request and response bodies")
		onceF = flag.Bool("once", false, "Run a single check and exit")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}
	if *addrF != "" {
		cfg.HTTPAddr = *addrF
	}
	dbg := *dbgF || cfg.Debug
	if dbg {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	log.Print(ctx, log.KV{K: "http-addr", V: cfg.HTTPAddr}, log.KV{K: "mode", V: cfg.Check.Mode})

	// Build the dependency graph.
	deps, err := newDependencies(ctx, cfg)
	if err != nil {
		log.Fatalf(ctx, err, "failed to initialize dependencies")
	}
	defer deps.close(ctx)

	checker, err := newChecker(ctx, cfg, deps)
	if err != nil {
		log.Fatalf(ctx, err, "failed to initialize streak checker")
	}

	if *onceF {
		if code := runOnce(ctx, checker, deps); code != 0 {
			os.Exit(code)
		}
		return
	}

	sched, err := schedule.New(schedule.Options{
		Spec:     cfg.Check.Schedule,
		Location: cfg.location,
		Job: func(ctx context.Context, trigger string) {
			checker.Run(ctx, trigger)
		},
		Logger:  deps.logger,
		Context: ctx,
	})
	if err != nil {
		log.Fatalf(ctx, err, "failed to initialize scheduler")
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	sched.Start()
	handleHTTPServer(ctx, cfg.HTTPAddr, deps, sched, health.NewChecker(deps.pingers...), &wg, errc, dbg)

	// Wait for signal.
	log.Printf(ctx, "exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		log.Printf(ctx, "scheduler did not stop cleanly: %v", err)
	}
	log.Printf(ctx, "exited")
}

// runOnce performs a single check, releases the dependencies and returns the
// process exit code.
func runOnce(ctx context.Context, c interface {
	Run(context.Context, string) *runlog.Record
}, d *dependencies) int {
	rec := c.Run(ctx, schedule.TriggerManual)
	log.Print(ctx, log.KV{K: "run", V: rec.ID}, log.KV{K: "status", V: rec.Status}, log.KV{K: "output", V: rec.Output})
	d.close(ctx)
	if rec.Error != "" {
		return 1
	}
	return 0
}
