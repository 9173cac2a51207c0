package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/matst80/chatrelay/internal/netaddr"
	"github.com/matst80/chatrelay/internal/obs"
	"github.com/matst80/chatrelay/internal/presence"
	"github.com/matst80/chatrelay/internal/ratelimit"
	"github.com/matst80/chatrelay/internal/relay"
)

const exitUsage = 64

func main() {
	os.Exit(run(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(prog string, args []string, stdin relay.ControlChannel, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(prog, args, stderr)
	if err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "Usage: %s [flags] <IP> <PORT> <MAX_LISTENERS>\n", prog)
		default:
			fmt.Fprintln(stderr, err)
		}
		return exitUsage
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("server.start", obs.Fields{"ip": cfg.IP, "port": cfg.Port, "backlog": cfg.Backlog, "max_conns": cfg.MaxConns, "metrics": cfg.MetricsAddr})

	addr, err := netaddr.Parse(cfg.IP, cfg.Port)
	if err != nil {
		obs.Error("listen.addr", obs.Fields{"err": err.Error()})
		return 1
	}
	ln, err := relay.Listen(addr, cfg.Backlog)
	if err != nil {
		var se *relay.SetupError
		op := "listen"
		if errors.As(err, &se) {
			op = se.Op
		}
		obs.Error("listen."+op, obs.Fields{"err": err.Error(), "addr": addr.String()})
		return 1
	}

	store, err := presence.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		obs.Error("presence.init", obs.Fields{"err": err.Error()})
		_ = ln.Close()
		return 1
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if rs, ok := store.(*presence.RedisStore); ok {
		go rs.StartMaintenance(ctx)
	}

	var limiter *ratelimit.RateLimiter
	if cfg.AcceptRate > 0 || cfg.MessageRate > 0 {
		limiter = ratelimit.NewRateLimiter(cfg.AcceptRate, cfg.MessageRate, cfg.Burst)
	}

	r, err := relay.New(ln, relay.Options{
		Capacity:         cfg.MaxConns,
		BufferSize:       cfg.BufferSize,
		PollTimeout:      cfg.PollTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Control:          stdin,
		Output:           stdout,
		Presence:         store,
		Limiter:          limiter,
	})
	if err != nil {
		obs.Error("relay.init", obs.Fields{"err": err.Error()})
		_ = ln.Close()
		return 1
	}

	if cfg.MetricsAddr != "" {
		stopStatus := startStatusServer(cfg.MetricsAddr, r)
		defer stopStatus()
	}

	fmt.Fprintf(stdout, "Relay listening on %s\n", r.Addr())
	if err := r.Run(ctx); err != nil {
		obs.Error("server.run", obs.Fields{"err": err.Error()})
		return 1
	}
	obs.Info("server.shutdown.complete", obs.Fields{})
	return 0
}
