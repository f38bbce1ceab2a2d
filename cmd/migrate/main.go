// Command migrate manages the trolley database schema.
//
// By default it runs the migrations embedded in the binary, so a deployment
// needs nothing but the executable and a DSN. Pass -path to run against a
// migrations directory instead, which is how schema changes are iterated on
// locally before they are baked in.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/trolley/internal/infra/persistence/migrations"
)

const defaultTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var (
		dsn     = fs.String("database", os.Getenv("TROLLEY_DATABASE_URL"), "PostgreSQL DSN (defaults to TROLLEY_DATABASE_URL)")
		dir     = fs.String("path", "", "Migrations directory; when empty the embedded migrations are used")
		timeout = fs.Duration("timeout", defaultTimeout, "Maximum time to wait for database connectivity")
		quiet   = fs.Bool("quiet", false, "Suppress informational logs")
	)
	if err := fs.Parse(argv); err != nil {
		return err
	}

	if strings.TrimSpace(*dsn) == "" {
		return errors.New("database DSN required via -database or TROLLEY_DATABASE_URL")
	}

	args := fs.Args()
	if len(args) == 0 {
		return errors.New("command required (up|down)")
	}

	var logger *log.Logger
	if !*quiet {
		logger = log.New(os.Stdout, "trolley-migrate ", log.LstdFlags)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch args[0] {
	case "up":
		return applyUp(ctx, *dsn, *dir, logger)
	case "down":
		steps, err := downSteps(args[1:])
		if err != nil {
			return err
		}
		return applyDown(ctx, *dsn, *dir, steps, logger)
	default:
		return fmt.Errorf("unknown command %q (expected up or down)", args[0])
	}
}

func applyUp(ctx context.Context, dsn, dir string, logger *log.Logger) error {
	if strings.TrimSpace(dir) == "" {
		return migrations.ApplyEmbedded(ctx, dsn, logger)
	}
	return migrations.Apply(ctx, dsn, dir, logger)
}

func applyDown(ctx context.Context, dsn, dir string, steps int, logger *log.Logger) error {
	if strings.TrimSpace(dir) == "" {
		return migrations.RollbackEmbedded(ctx, dsn, steps, logger)
	}
	return migrations.Rollback(ctx, dsn, dir, steps, logger)
}

// downSteps parses the optional step count after "down", defaulting to 1.
func downSteps(rest []string) (int, error) {
	if len(rest) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return 0, fmt.Errorf("invalid down steps %q: %w", rest[0], err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("down steps must be positive, got %d", n)
	}
	return n, nil
}
