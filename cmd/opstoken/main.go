// Command opstoken mints a bearer token for the operator API.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"easyswitch/internal/auth"
	"easyswitch/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	subject := flag.String("sub", "ops", "token subject")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if err := run(os.Stdout, []byte(os.Getenv("OPS_JWT_SECRET")), *subject, *ttl, time.Now()); err != nil {
		logger.L().Fatal("failed to issue token", zap.Error(err))
	}
}

func run(w io.Writer, secret []byte, subject string, ttl time.Duration, now time.Time) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	token, err := auth.IssueToken(secret, subject, ttl, now)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
