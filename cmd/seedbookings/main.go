// Command seedbookings loads booking history into the bookings collection.
//
// It imports exports from the legacy booking system and can generate weeks of
// synthetic weekly bookings for four demo players, leaving selected players
// out of the current week so that the next streak check finds absentees.
//
// Environment variables:
//
//	MONGODB_URL      - MongoDB URI (default: "mongodb://localhost:27017")
//	DB_NAME          - database name (default: "badminton_club")
//	COLLECTION_NAME  - bookings collection (default: "bookings")
//
// Example:
//
//	go run ./cmd/seedbookings -file export.json -mock-weeks 8 -skip-latest demo_lara
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	bookingmongo "github.com/royalbadminton/streakbot/features/booking/mongo"
	clientsmongo "github.com/royalbadminton/streakbot/features/booking/mongo/clients/mongo"
	"github.com/royalbadminton/streakbot/runtime/booking"
)

func main() {
	var (
		fileF   = flag.String("file", "", "Path to exported JSON/NDJSON bookings")
		weeksF  = flag.Int("mock-weeks", 8, "Weeks of synthetic recurring data to generate")
		skipF   = flag.String("skip-latest", "demo_lara", "Comma-separated user IDs left out of the most recent week")
		purgeF  = flag.String("purge-user", "", "Comma-separated user IDs to purge before inserting")
		dryRunF = flag.Bool("dry-run", false, "Parse and preview without writing to MongoDB")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	if err := run(ctx, *fileF, *weeksF, splitList(*skipF), splitList(*purgeF), *dryRunF); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, file string, weeks int, skip, purge []string, dryRun bool) error {
	var records []booking.Booking
	if file != "" {
		log.Printf(ctx, "loading seed data from %s", file)
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		var errs []error
		records, errs = readLegacy(f)
		f.Close()
		for _, err := range errs {
			log.Printf(ctx, "skipping record: %v", err)
		}
	}
	if len(records) == 0 && weeks <= 0 && len(purge) == 0 {
		log.Printf(ctx, "no records to insert; provide -file or set -mock-weeks > 0")
		return nil
	}

	opts := seedOptions{
		Records:    records,
		MockWeeks:  weeks,
		SkipLatest: skip,
		Purge:      purge,
		DryRun:     dryRun,
		Today:      time.Now(),
	}
	if dryRun {
		rep, err := seed(ctx, nil, opts)
		if err != nil {
			return err
		}
		if rep.Sample != nil {
			log.Printf(ctx, "prepared %d records (dry-run), first: %s %s on %s", rep.Prepared, rep.Sample.PlayerID, rep.Sample.CourtName, rep.Sample.Date.Format(booking.DayLayout))
		} else {
			log.Printf(ctx, "prepared 0 records (dry-run)")
		}
		return nil
	}

	uri := envOr("MONGODB_URL", "mongodb://localhost:27017")
	db := envOr("DB_NAME", "badminton_club")
	coll := envOr("COLLECTION_NAME", "bookings")

	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("connect to mongo: %w", err)
	}
	defer func() {
		if err := client.Disconnect(context.WithoutCancel(ctx)); err != nil {
			log.Printf(ctx, "disconnect: %v", err)
		}
	}()
	store, err := bookingmongo.NewStoreFromMongo(clientsmongo.Options{Client: client, Database: db, Collection: coll})
	if err != nil {
		return err
	}

	rep, err := seed(ctx, store, opts)
	if err != nil {
		return err
	}
	if len(purge) > 0 {
		log.Printf(ctx, "purged %d existing records for %v", rep.Purged, purge)
	}
	log.Printf(ctx, "upserted %d booking records into %s.%s", rep.Upserted, db, coll)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
