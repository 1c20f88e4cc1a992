// Command print-system-key provisions the system key if needed and prints it.
// With -username and -email it also registers a user and prints its token.
//
//	go run ./scripts/print-system-key.go -driver sqlite -database-url database.db
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/keymeter/keymeter/internal/config"
	"github.com/keymeter/keymeter/internal/repository"
	"github.com/keymeter/keymeter/internal/service"
)

type output struct {
	SystemKey    string `json:"system_key"`
	Created      bool   `json:"created"`
	UserID       int64  `json:"user_id,omitempty"`
	Username     string `json:"username,omitempty"`
	PrivateKey   string `json:"private_key,omitempty"`
	MonthlyLimit int64  `json:"monthly_limit,omitempty"`
}

func main() {
	var (
		driver      = flag.String("driver", envOr("DATABASE_DRIVER", config.DriverPostgres), "Storage driver: postgres or sqlite")
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL DSN or SQLite file path")
		username    = flag.String("username", "", "Register a user with this username")
		email       = flag.String("email", "", "Email for the registered user")
		limit       = flag.Int64("limit", 0, "Monthly limit for the registered user (0 means default)")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		if *driver != config.DriverSQLite {
			fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
			os.Exit(1)
		}
		*databaseURL = "database.db"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := repository.Open(ctx, *driver, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open database:", err)
		os.Exit(1)
	}
	defer store.Close()

	svc := service.NewQuotaService(store, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	key, created, err := svc.EnsureSystemKey(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "provision system key:", err)
		os.Exit(1)
	}
	out := output{SystemKey: key, Created: created}

	if *username != "" || *email != "" {
		user, err := svc.RegisterUser(ctx, service.RegisterInput{
			Username:     *username,
			Email:        *email,
			SystemKey:    key,
			MonthlyLimit: *limit,
		})
		if err != nil {
			if errors.Is(err, service.ErrConflict) {
				fmt.Fprintln(os.Stderr, "username or email already exists")
			} else {
				fmt.Fprintln(os.Stderr, "register user:", err)
			}
			os.Exit(1)
		}
		out.UserID = user.ID
		out.Username = user.Username
		out.PrivateKey = user.PrivateKey
		out.MonthlyLimit = user.MonthlyLimit
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.SystemKey)
		if out.PrivateKey != "" {
			fmt.Println(out.PrivateKey)
		}
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
