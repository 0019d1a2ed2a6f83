// Command token mints a signed access token for calling the API by hand.
//
//	go run ./cmd/token -sub 42 -role AGENT
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/utils"
)

func main() {
	_ = godotenv.Load()

	sub := flag.Uint64("sub", 0, "user id placed in the sub claim")
	role := flag.String("role", "PASSENGER", "PASSENGER or AGENT")
	tier := flag.String("tier", "", "optional priority tier: EMERGENCY, PREMIUM or REGULAR")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	if *sub == 0 {
		log.Fatal("-sub is required")
	}
	r := strings.ToUpper(*role)
	if r != "PASSENGER" && r != "AGENT" {
		log.Fatalf("unknown role %q", *role)
	}
	t := ""
	if *tier != "" {
		parsed, err := model.ParsePriorityTier(*tier)
		if err != nil {
			log.Fatal(err)
		}
		t = string(parsed)
	}

	tok, err := utils.NewAccessToken(secret, *sub, r, t, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok.Token)
}
