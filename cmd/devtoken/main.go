// Command devtoken mints an access token the way the account service does, for
// local testing against a running relay.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"support_chat/internal/config"
	"support_chat/pkg/jwt"
)

func main() {
	userID := flag.Int64("user", 0, "user id to put in the token")
	email := flag.String("email", "", "email claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *userID <= 0 {
		log.Fatal("-user must be a positive id")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	token, err := jwt.GenerateAccessToken(*userID, *email, cfg.JWT.Issuer, cfg.JWT.AccessSecret, *ttl)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	fmt.Println(token)
}
