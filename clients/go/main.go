// Whisper CLI - Command line client for Whisper
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/eldtechnologies/whisper/clients/go/whisper"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("WHISPER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := whisper.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: whisper register <username> <email> <password>")
			os.Exit(1)
		}
		user, err := client.Register(os.Args[2], os.Args[3], os.Args[4])
		exitOnError(err)
		fmt.Printf("Registered as: %s (%s)\n", user.Username, user.ID)

	case "login":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: whisper login <email> <password>")
			os.Exit(1)
		}
		user, err := client.Login(os.Args[2], os.Args[3])
		exitOnError(err)
		exitOnError(client.SaveConfig())
		fmt.Printf("Logged in as: %s (%s)\n", user.Username, user.ID)

	case "logout":
		exitOnError(client.Logout())
		exitOnError(client.ClearConfig())
		fmt.Println("Logged out")

	case "users":
		users, err := client.Users()
		exitOnError(err)
		printUsers(users)

	case "online":
		users, err := client.OnlineUsers()
		exitOnError(err)
		printUsers(users)

	case "history":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: whisper history <user_id>")
			os.Exit(1)
		}
		messages, err := client.History(os.Args[2])
		exitOnError(err)
		for _, m := range messages {
			printMessage(client.UserID, m)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: whisper send <user_id> <message>")
			os.Exit(1)
		}
		sock, err := client.Dial(context.Background())
		exitOnError(err)
		defer sock.Close()

		exitOnError(sock.Send(os.Args[2], strings.Join(os.Args[3:], " ")))
		for {
			ev, err := sock.Next()
			exitOnError(err)
			switch ev.Name {
			case whisper.EventMessageSender:
				m, err := ev.Message()
				exitOnError(err)
				fmt.Printf("Sent: %s\n", m.ID)
				return
			case whisper.EventError:
				exitOnError(fmt.Errorf("%s", ev.ErrorMessage()))
			}
		}

	case "listen":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sock, err := client.Dial(ctx)
		exitOnError(err)
		go func() {
			<-ctx.Done()
			sock.Close()
		}()

		fmt.Println("Listening, press Ctrl-C to stop")
		for {
			ev, err := sock.Next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				exitOnError(err)
			}
			printEvent(client.UserID, ev)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Whisper CLI - direct messages from the terminal

Usage: whisper <command> [options]

Commands:
  register <username> <email> <password>   Create an account
  login <email> <password>                 Log in and save the session
  logout                                   End the saved session
  users                                    List users
  online                                   List online users
  history <user_id>                        Show the conversation with a user
  send <user_id> <message>                 Send a direct message
  listen                                   Print incoming messages and typing
  health                                   Check server health

Environment:
  WHISPER_URL      Server URL (default: http://localhost:8080)
  WHISPER_CONFIG   Config directory (default: ~/.whisper)`)
}

func printUsers(users []whisper.User) {
	for _, u := range users {
		status := " "
		if u.IsOnline {
			status = "*"
		}
		fmt.Printf("%s %s  %s\n", status, u.ID, u.Username)
	}
}

func printMessage(self string, m whisper.Message) {
	ts := m.CreatedAt.Local().Format("2006-01-02 15:04:05")
	from := m.Sender
	if from == self {
		from = "me"
	} else if len(from) > 8 {
		from = from[:8]
	}
	fmt.Printf("[%s] %s: %s\n", ts, from, m.Body)
}

func printEvent(self string, ev whisper.Event) {
	switch ev.Name {
	case whisper.EventMessageReceiver:
		if m, err := ev.Message(); err == nil {
			printMessage(self, *m)
		}
	case whisper.EventTypingStart:
		fmt.Printf("%s is typing...\n", ev.Sender())
	case whisper.EventTypingStop:
		fmt.Printf("%s stopped typing\n", ev.Sender())
	case whisper.EventError:
		fmt.Fprintf(os.Stderr, "error: %s\n", ev.ErrorMessage())
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
