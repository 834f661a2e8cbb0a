package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/matheus3301/roam/internal/client"
	"github.com/matheus3301/roam/internal/config"
	"github.com/matheus3301/roam/internal/message"
	"github.com/matheus3301/roam/internal/rpc"
	"github.com/matheus3301/roam/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		fatalf("load config: %v", err)
	}
	sessionName, err := session.Resolve(*sessionFlag, cfg)
	if err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(session.For(sessionName).Socket())
	if err != nil {
		fatalf("cannot connect to daemon for session %q: %v", sessionName, err)
	}
	defer func() { _ = c.Close() }()

	switch args[0] {
	case "status":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cmdStatus(ctx, c, *jsonFlag)
	case "history":
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cmdHistory(ctx, c, args[1:], *jsonFlag)
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		cmdWatch(ctx, c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: roamctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                                   Show sync status")
	fmt.Fprintln(os.Stderr, "  history [flags] <friend|group|temp> <id>  Page through a conversation's history")
	fmt.Fprintln(os.Stderr, "      --account N   owning account")
	fmt.Fprintln(os.Stderr, "      --size N      page size (0 = daemon default)")
	fmt.Fprintln(os.Stderr, "      --pages N     stop after N pages (0 = all)")
	fmt.Fprintln(os.Stderr, "  watch                                    Stream sync events")
}

func cmdStatus(ctx context.Context, c *client.Client, jsonOut bool) {
	resp, err := c.Sync.GetSyncStatus(ctx, &rpc.GetSyncStatusRequest{})
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	remote := resp.RemoteAddr
	if remote == "" {
		remote = "(none, local only)"
	}
	fmt.Printf("Session:    %s\n", resp.Session)
	fmt.Printf("Status:     %s\n", resp.Status)
	fmt.Printf("Feed:       %s\n", remote)
	fmt.Printf("Open views: %d\n", resp.OpenViews)
	fmt.Printf("Messages:   %d\n", resp.MessageCount)
	fmt.Printf("Uptime:     %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).String())
}

func cmdHistory(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	account := fs.Int64("account", 0, "owning account")
	size := fs.Int("size", 0, "page size")
	pages := fs.Int("pages", 0, "maximum pages")
	_ = fs.Parse(args)

	if fs.NArg() != 2 {
		fatalf("usage: roamctl history [--account N] [--size N] [--pages N] <friend|group|temp> <id>")
	}
	kind, err := message.ParseContactKind(fs.Arg(0))
	if err != nil {
		fatalf("%v", err)
	}
	subject, err := strconv.ParseInt(fs.Arg(1), 10, 64)
	if err != nil {
		fatalf("invalid contact id %q", fs.Arg(1))
	}
	stream := message.Stream{Account: *account, Contact: message.Contact{Kind: kind, Subject: subject}}

	n := 0
	for page, err := range c.History(ctx, stream, *size) {
		if err != nil {
			fatalf("%v", err)
		}
		n++
		if jsonOut {
			outputJSON(page)
		} else {
			fmt.Printf("-- page %d (%s, %d messages)\n", n, page.Source, len(page.Messages))
			for _, m := range page.Messages {
				name := m.SenderName
				if name == "" {
					name = strconv.FormatInt(m.Sender, 10)
				}
				ts := time.Unix(m.Time, 0).Format(time.DateTime)
				fmt.Printf("%8d  %s  %-16s %s\n", m.Sequence, ts, name, m.Summary)
			}
		}
		if *pages > 0 && n >= *pages {
			break
		}
	}
}

func cmdWatch(ctx context.Context, c *client.Client, jsonOut bool) {
	stream, err := c.Sync.WatchSyncEvents(ctx, &rpc.WatchSyncEventsRequest{})
	if err != nil {
		fatalf("%v", err)
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fatalf("%v", err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		at := time.UnixMilli(evt.OccurredAtUnixMs).Format(time.TimeOnly)
		fmt.Printf("%s  %-20s %s\n", at, evt.Kind, evt.Payload)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
