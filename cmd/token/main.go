// Command token mints a bearer token for the flash-loan engine API.
//
//	AUTH_SECRET=... token -sub alice -ttl 24h
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atmx/flashloan/internal/auth"
)

func main() {
	var (
		subject = flag.String("sub", "", "Account the token speaks for (use the engine account for operator tokens)")
		secret  = flag.String("secret", os.Getenv("AUTH_SECRET"), "HMAC signing secret (defaults to $AUTH_SECRET)")
		issuer  = flag.String("issuer", os.Getenv("AUTH_ISSUER"), "Issuer claim (defaults to $AUTH_ISSUER)")
		ttl     = flag.Duration("ttl", time.Hour, "Token lifetime")
	)
	flag.Parse()

	if strings.TrimSpace(*subject) == "" {
		exitf("-sub is required")
	}
	if *ttl <= 0 {
		exitf("-ttl must be positive")
	}

	signer := auth.NewSigner(*secret, *issuer, *ttl)
	token, err := signer.Issue(strings.TrimSpace(*subject), time.Now().UTC())
	if err != nil {
		exitf("issue token: %v", err)
	}
	fmt.Println(token)
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
