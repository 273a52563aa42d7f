// Command gridctl is a headless client for the grid authority.
//
//	gridctl [-config config.yml] [-addr host:port] fetch
//	gridctl update <x> <y> <color>
//	gridctl resize <rows> <columns>
//	gridctl watch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rocketscienceinc/tilegrid/internal/client"
	"github.com/rocketscienceinc/tilegrid/internal/codec"
	"github.com/rocketscienceinc/tilegrid/internal/config"
	"github.com/rocketscienceinc/tilegrid/internal/entity"
)

var errUsage = errors.New("usage: gridctl [flags] fetch | update <x> <y> <color> | resize <rows> <columns> | watch")

func main() {
	configPath := flag.String("config", "", "path to config.yml (environment and defaults when empty)")
	addr := flag.String("addr", "", "authority host:port, overrides the config")
	flag.Parse()

	if err := run(*configPath, *addr, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, addr string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	conf, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if addr == "" {
		addr = conf.Authority.GetAddr()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := config.NewLogger(conf.LogLevel)

	grid, err := client.Dial(ctx, logger, addr, client.Options{
		RequestTimeout: conf.Client.RequestTimeout,
		MaxBackoff:     conf.Client.MaxBackoff,
		EventBuffer:    conf.Client.SubscriberBuffer,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer grid.Close()

	switch args[0] {
	case "fetch":
		snapshot, err := grid.FetchSnapshot(ctx)
		if err != nil {
			return err
		}

		_, err = io.WriteString(out, codec.EncodeSnapshot(snapshot))

		return err
	case "update":
		values, err := intArgs(args[1:], 3)
		if err != nil {
			return err
		}

		return grid.SubmitUpdate(ctx, values[0], values[1], values[2])
	case "resize":
		values, err := intArgs(args[1:], 2)
		if err != nil {
			return err
		}

		return grid.SubmitResize(ctx, values[0], values[1])
	case "watch":
		return watch(ctx, logger, grid, out)
	default:
		return errUsage
	}
}

func watch(ctx context.Context, logger *slog.Logger, grid *client.Client, out io.Writer) error {
	grid.OnRemoteChange(func(change entity.Change) {
		if _, err := fmt.Fprintf(out, "%s\n\n", change.Raw); err != nil {
			logger.Error("failed to print change", "error", err)
		}
	})

	grid.OnResync(func(snapshot *entity.Grid) {
		logger.Info("mirror resynced", "rows", snapshot.Rows(), "columns", snapshot.Columns())
	})

	<-ctx.Done()

	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadEnv()
	}

	return config.MustLoad(path), nil
}

func intArgs(args []string, want int) ([]int, error) {
	if len(args) != want {
		return nil, errUsage
	}

	values := make([]int, want)
	for i, arg := range args {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number: %w", arg, err)
		}
		values[i] = v
	}

	return values, nil
}
