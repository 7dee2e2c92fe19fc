// Command shmkv-client is the REPL client: lines of the form
// "GET <key>", "INSERT <key> <value>", "DELETE <key>", and
// "READ_BUCKET <index>", case-insensitive commands, whitespace-separated
// tokens. Ctrl-D or SIGINT exits cleanly.
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

	"github.com/rs/zerolog"

	"github.com/adred-codev/shmkv/internal/config"
	"github.com/adred-codev/shmkv/internal/kvclient"
	"github.com/adred-codev/shmkv/internal/logging"
	"github.com/adred-codev/shmkv/internal/mailbox"
)

func main() {
	os.Exit(run())
}

func run() int {
	bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.LoadClient(&bootstrap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load client configuration: %v\n", err)
		return 1
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty}, "shmkv-client")

	mbox, err := mailbox.OpenShared(cfg.ShmName)
	if err != nil {
		logger.Error().Err(err).Str("shm_name", cfg.ShmName).Msg("failed to attach to mailbox; is the server running?")
		return 1
	}
	defer mbox.Close()

	client := kvclient.New(mbox)
	fmt.Printf("attached to %s as client %d\n", cfg.ShmName, client.ClientID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		// The REPL may be blocked in scanner.Scan, which never observes
		// ctx; exit here so SIGINT ends the process without waiting for
		// another line of input.
		os.Exit(0)
	}()

	repl(ctx, client)
	return 0
}

func repl(ctx context.Context, client *kvclient.Client) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		tokens := strings.Fields(line)
		cmd := strings.ToUpper(tokens[0])

		if err := dispatch(ctx, client, cmd, tokens[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func dispatch(ctx context.Context, client *kvclient.Client, cmd string, args []string) error {
	switch cmd {
	case "GET":
		if len(args) != 1 {
			return fmt.Errorf("GET expects 1 argument (the key)")
		}
		v, found, err := client.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(v)
		return nil

	case "INSERT":
		if len(args) != 2 {
			return fmt.Errorf("INSERT expects 2 arguments (key and value)")
		}
		ok, err := client.Insert(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(key already exists)")
			return nil
		}
		fmt.Println("OK")
		return nil

	case "DELETE":
		if len(args) != 1 {
			return fmt.Errorf("DELETE expects 1 argument (the key)")
		}
		v, found, err := client.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(v)
		return nil

	case "READ_BUCKET":
		if len(args) != 1 {
			return fmt.Errorf("READ_BUCKET expects 1 argument (the bucket index)")
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bucket index must be a decimal integer: %w", err)
		}
		pairs, err := client.ReadBucket(ctx, idx)
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			fmt.Println("(empty bucket)")
			return nil
		}
		for _, p := range pairs {
			fmt.Printf("%s -> %s\n", p.Key, p.Value)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q; expected GET, INSERT, DELETE, or READ_BUCKET", cmd)
	}
}
