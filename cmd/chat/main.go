package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/auth"
	"chatsync/internal/client"
	"chatsync/internal/config"
	"chatsync/internal/rest"
	"chatsync/internal/transport"
	"chatsync/pkg/chat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	identity, err := auth.FromToken(cfg.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid session token")
	}

	conn, err := transport.New(transport.Config{
		URL:           cfg.ServerWSURL,
		Token:         cfg.Token,
		ReconnectBase: cfg.ReconnectBase,
		ReconnectCap:  cfg.ReconnectCap,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("transport setup failed")
	}

	api, err := rest.New(cfg.ServerHTTPURL, cfg.Token, log)
	if err != nil {
		log.Fatal().Err(err).Msg("rest setup failed")
	}

	engine := client.NewEngine(identity, conn, api, api, log, client.Options{
		FetchTimeout: cfg.FetchTimeout,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go conn.Run(ctx)
	go render(engine, log)
	go repl(ctx, engine, cancel)

	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
}

// render consumes the state surface and prints incremental updates.
func render(engine *client.Engine, log zerolog.Logger) {
	for u := range engine.Updates() {
		switch u := u.(type) {
		case client.ConnectionChanged:
			fmt.Printf("-- %s --\n", u.State)
		case client.RoomChanged:
			if u.Active {
				fmt.Printf("== %s (room %d) ==\n", u.Room.Name, u.Room.ID)
			} else {
				fmt.Println("== no room ==")
			}
		case client.HistoryLoaded:
			var lastDay time.Time
			for _, m := range u.Messages {
				if !chat.SameDay(lastDay, m.Timestamp) {
					fmt.Printf("--- %s ---\n", chat.FormatDate(m.Timestamp, time.Now()))
					lastDay = m.Timestamp
				}
				printMessage(m)
			}
			if len(u.Messages) == 0 {
				fmt.Println("(no messages yet)")
			}
		case client.HistoryFailed:
			fmt.Printf("!! failed to load messages: %v (use /retry)\n", u.Err)
		case client.MessageAppended:
			if u.DateBoundary {
				fmt.Printf("--- %s ---\n", chat.FormatDate(u.Message.Timestamp, time.Now()))
			}
			printMessage(u.Message)
		case client.MessageRemoved:
			fmt.Printf("(message %d deleted)\n", u.ID)
		case client.PresenceChanged:
			names := make([]string, 0, len(u.Users))
			for _, user := range u.Users {
				names = append(names, user.Name())
			}
			suffix := ""
			if u.Stale {
				suffix = " (stale)"
			}
			fmt.Printf("online%s: %s\n", suffix, strings.Join(names, ", "))
		case client.TypingChanged:
			if len(u.Names) > 0 {
				fmt.Printf("%s typing...\n", strings.Join(u.Names, ", "))
			}
		case client.RoomsListed:
			if len(u.Rooms) == 0 {
				fmt.Println("(no rooms yet)")
				break
			}
			for _, r := range u.Rooms {
				label := ""
				if r.IsGlobal {
					label = " [global]"
				}
				fmt.Printf("  %d: %s%s (%d messages)\n", r.ID, r.Name, label, r.MessageCount)
			}
		case client.ViewInvalidated:
			fmt.Println("-- view out of date, reloading --")
			for _, m := range engine.Messages() {
				printMessage(m)
			}
		default:
			log.Debug().Type("update", u).Msg("unrendered update")
		}
	}
}

func printMessage(m chat.Message) {
	who := m.Name()
	if m.IsOwn {
		who = "you"
	}
	switch m.Type {
	case chat.MessageText:
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), who, m.Content)
	default:
		fmt.Printf("[%s] %s: (%s) %s\n", m.Timestamp.Local().Format("15:04"), who, m.Type, m.Content)
	}
}

// repl reads commands from stdin. Plain lines are sent as text; keystrokes
// are approximated by one typing signal per line edit.
func repl(ctx context.Context, engine *client.Engine, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			engine.Keystroke()
			engine.SendText(line)
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/join":
			if len(fields) < 3 {
				fmt.Println("usage: /join <room-id> <room-name>")
				continue
			}
			id, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("room id must be a number")
				continue
			}
			engine.JoinRoom(id, strings.Join(fields[2:], " "))
		case "/leave":
			engine.LeaveRoom()
		case "/rooms":
			engine.RequestRooms()
		case "/gif":
			if len(fields) == 2 {
				engine.SendGIF(fields[1])
			}
		case "/file":
			if len(fields) != 2 {
				fmt.Println("usage: /file <path>")
				continue
			}
			f, err := os.Open(fields[1])
			if err != nil {
				fmt.Println("open:", err)
				continue
			}
			engine.SendAttachment(f.Name(), f)
		case "/del":
			if len(fields) == 2 {
				if id, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
					engine.DeleteMessage(id)
				}
			}
		case "/retry":
			engine.RetryHistory()
		case "/resync":
			engine.Resync()
		case "/quit":
			cancel()
			return
		default:
			fmt.Println("commands: /rooms /join /leave /gif /file /del /retry /resync /quit")
		}
	}
}
