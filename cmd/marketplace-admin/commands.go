package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"ms-marketplace/internal/app"
	"ms-marketplace/internal/catalog"
	"ms-marketplace/internal/config"
	"ms-marketplace/internal/database"
	"ms-marketplace/internal/database/migrations"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"
)

// environment opens connections lazily so each command pays only for what
// it uses.
type environment struct {
	cfg    *config.Config
	log    *logger.Logger
	stdout io.Writer

	db       *bun.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func (e *environment) database(ctx context.Context) (*bun.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	db, err := app.ConnectDatabase(ctx, e.cfg.Database, e.log)
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

func (e *environment) services(ctx context.Context, withLock bool) (*app.Services, error) {
	db, err := e.database(ctx)
	if err != nil {
		return nil, err
	}
	if withLock && e.redis == nil {
		if e.redis, err = app.ConnectRedis(ctx, e.cfg.Redis, e.log); err != nil {
			return nil, fmt.Errorf("%w (pass --unlocked to run without the sweep lock)", err)
		}
	}
	if e.cfg.Kafka.Enabled && e.producer == nil {
		e.producer = kafka.NewProducer(e.cfg.Kafka.Brokers, e.cfg.Kafka.Topics, e.log)
	}
	return app.NewServices(e.cfg, db, e.redis, e.producer, e.log), nil
}

func (e *environment) close() {
	if e.producer != nil {
		e.producer.Close()
	}
	if e.redis != nil {
		e.redis.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}

func (e *environment) printJSON(v interface{}) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMigrate(ctx context.Context, env *environment, args []string) error {
	var down bool
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.BoolVar(&down, "down", false, "roll back every migration instead of applying them")
	if done, err := parseFlags(flagSet, args, env.stdout); done || err != nil {
		return err
	}

	db, err := env.database(ctx)
	if err != nil {
		return err
	}
	if env.cfg.Database.Driver == "sqlite" {
		if down {
			return database.DropSchema(ctx, db)
		}
		return app.PrepareSchema(ctx, db, env.cfg.Database, env.log)
	}

	runner := migrations.NewRunner(db, env.log)
	// Closing the runner closes the database as well.
	env.db = nil
	defer runner.Close()
	if down {
		return runner.MigrateDown()
	}
	return runner.MigrateUp()
}

func runImportCatalog(ctx context.Context, env *environment, args []string) error {
	var path string
	flagSet := pflag.NewFlagSet("import-catalog", pflag.ContinueOnError)
	flagSet.StringVarP(&path, "file", "f", "", "catalog YAML file")
	if done, err := parseFlags(flagSet, args, env.stdout); done || err != nil {
		return err
	}
	if path == "" {
		return errors.New("--file is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	c, err := catalog.Parse(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	svcs, err := env.services(ctx, false)
	if err != nil {
		return err
	}
	n, err := catalog.Apply(ctx, c, svcs.EventsDB, svcs.OrdersDB, env.log)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "imported %d events with %d ticket types\n", len(c.Events), n)
	return nil
}

func runResumeSweeps(ctx context.Context, env *environment, args []string) error {
	var unlocked bool
	flagSet := pflag.NewFlagSet("resume-sweeps", pflag.ContinueOnError)
	flagSet.BoolVar(&unlocked, "unlocked", false, "skip the Redis sweep lock")
	if done, err := parseFlags(flagSet, args, env.stdout); done || err != nil {
		return err
	}

	svcs, err := env.services(ctx, !unlocked)
	if err != nil {
		return err
	}
	n, err := svcs.Lifecycle.ResumePendingSweeps(ctx)
	fmt.Fprintf(env.stdout, "completed %d sweeps\n", n)
	return err
}

func runRelayOutbox(ctx context.Context, env *environment, args []string) error {
	var batch int
	flagSet := pflag.NewFlagSet("relay-outbox", pflag.ContinueOnError)
	flagSet.IntVar(&batch, "batch", 500, "maximum intents to publish")
	if done, err := parseFlags(flagSet, args, env.stdout); done || err != nil {
		return err
	}
	if !env.cfg.Kafka.Enabled {
		return errors.New("kafka is disabled; nothing can be relayed")
	}

	svcs, err := env.services(ctx, false)
	if err != nil {
		return err
	}
	n, err := svcs.Lifecycle.RelayOutbox(ctx, batch)
	fmt.Fprintf(env.stdout, "published %d refund intents\n", n)
	return err
}

func runReplayDeadLetters(ctx context.Context, env *environment, args []string) error {
	var limit int
	var idle time.Duration
	flagSet := pflag.NewFlagSet("replay-dead-letters", pflag.ContinueOnError)
	flagSet.IntVar(&limit, "limit", 500, "maximum intents to replay")
	flagSet.DurationVar(&idle, "idle", 5*time.Second, "stop after waiting this long for a message")
	if done, err := parseFlags(flagSet, args, env.stdout); done || err != nil {
		return err
	}
	if !env.cfg.Kafka.Enabled {
		return errors.New("kafka is disabled; nothing can be replayed")
	}

	reader := kafka.NewDeadLetterReader(env.cfg.Kafka.Brokers, env.cfg.Kafka.Topics, env.cfg.Kafka.GroupID)
	defer reader.Close()
	if env.producer == nil {
		env.producer = kafka.NewProducer(env.cfg.Kafka.Brokers, env.cfg.Kafka.Topics, env.log)
	}
	n, err := kafka.ReplayDeadLetters(ctx, reader, env.producer.Refunds, limit, idle)
	fmt.Fprintf(env.stdout, "replayed %d refund intents\n", n)
	return err
}

func runCancelEvent(ctx context.Context, env *environment, args []string) error {
	var eventID, reason string
	var unlocked bool
	flagSet := pflag.NewFlagSet("cancel-event", pflag.ContinueOnError)
	flagSet.StringVar(&eventID, "event", "", "event ID")
	flagSet.StringVar(&reason, "reason", "", "reason shown to ticket holders")
	flagSet.BoolVar(&unlocked, "unlocked", false, "skip the Redis sweep lock")
	if done, err := parseFlags(flagSet, args, env.stdout); done || err != nil {
		return err
	}
	if eventID == "" {
		return errors.New("--event is required")
	}

	svcs, err := env.services(ctx, !unlocked)
	if err != nil {
		return err
	}
	result, err := svcs.Lifecycle.Cancel(ctx, eventID, reason)
	if err != nil && result.CancellationID == "" {
		return err
	}
	if perr := env.printJSON(result); perr != nil {
		return perr
	}
	return err
}

func runStats(ctx context.Context, env *environment, args []string) error {
	var eventID string
	flagSet := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	flagSet.StringVar(&eventID, "event", "", "event ID")
	if done, err := parseFlags(flagSet, args, env.stdout); done || err != nil {
		return err
	}
	if eventID == "" {
		return errors.New("--event is required")
	}

	svcs, err := env.services(ctx, false)
	if err != nil {
		return err
	}
	if _, err := svcs.EventsDB.GetEvent(ctx, eventID); err != nil {
		return err
	}
	checkins, err := svcs.Analytics.GetCheckInStats(ctx, eventID)
	if err != nil {
		return err
	}
	sales, err := svcs.Analytics.GetSalesSummary(ctx, eventID)
	if err != nil {
		return err
	}
	return env.printJSON(map[string]interface{}{
		"checkins": checkins,
		"sales":    sales,
	})
}
