package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/bioviews/pkg/middleware"
)

func newTokenCommand() *Command {
	cmd := &Command{
		Name:        "token",
		Description: "Issue a development bearer token",
		Flags:       flag.NewFlagSet("token", flag.ContinueOnError),
		Run:         runToken,
	}
	cmd.Flags.String("secret", os.Getenv("BIOVIEWS_JWT_SECRET"), "Shared HS256 secret")
	cmd.Flags.String("user", "", "User id (token subject)")
	cmd.Flags.Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func runToken(args []string) error {
	cmd := newTokenCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	secret := flagString(cmd.Flags, "secret")
	user := flagString(cmd.Flags, "user")
	if secret == "" || user == "" {
		return fmt.Errorf("secret and user are required")
	}
	ttl := cmd.Flags.Lookup("ttl").Value.(flag.Getter).Get().(time.Duration)

	now := time.Now()
	token, err := middleware.IssueToken(secret, user, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Fprintln(stdout, token)
	return nil
}
