// Command sign issues and inspects session cookie values for debugging.
//
// With -value it prints the signed cookie for a session ID. With -cookie it
// verifies a cookie value and, when REDIS_URL is set, prints the user the
// session belongs to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/eldtechnologies/whisper/internal/session"
	"github.com/eldtechnologies/whisper/internal/store"
)

func main() {
	secret := flag.String("secret", os.Getenv("SESSION_SECRET"), "Session secret (defaults to $SESSION_SECRET)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Session TTL; older cookies fail to verify")
	value := flag.String("value", "", "Session ID to sign")
	cookie := flag.String("cookie", "", "Cookie value to verify")
	flag.Parse()

	if *secret == "" || (*value == "") == (*cookie == "") {
		fmt.Fprintln(os.Stderr, "Usage: sign -secret <secret> [-ttl 24h] (-value <session-id> | -cookie <cookie-value>)")
		os.Exit(1)
	}

	codec := session.NewCodec(*secret, *ttl)

	if *value != "" {
		signed, err := codec.Encode(*value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Signing failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s=%s\n", session.CookieName, signed)
		return
	}

	sid, err := codec.Decode(*cookie)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid cookie: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Session ID: %s\n", sid)

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rs, err := store.NewRedisStore(ctx, redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Redis connection failed: %v\n", err)
		os.Exit(1)
	}
	defer rs.Close()

	userID, err := rs.GetSession(ctx, sid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Session lookup failed: %v\n", err)
		os.Exit(1)
	}
	if userID == "" {
		fmt.Println("Session expired or unknown")
		return
	}
	fmt.Printf("User ID: %s\n", userID)
}
