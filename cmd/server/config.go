package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/matst80/chatrelay/internal/proto"
)

// Config holds all runtime configuration derived from flags and the three
// positional arguments.
type Config struct {
	IP      string
	Port    string
	Backlog int // MAX_LISTENERS, the listen(2) backlog

	MaxConns         int
	BufferSize       int
	PollTimeout      time.Duration
	HandshakeTimeout time.Duration
	MetricsAddr      string
	Debug            bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AcceptRate  int
	MessageRate int
	Burst       int
}

var errUsage = errors.New("wrong number of arguments")

// parseArgs registers flags on a fresh set so it can be exercised in tests.
func parseArgs(prog string, args []string, stderr io.Writer) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] <IP> <PORT> <MAX_LISTENERS>\n", prog)
		fs.PrintDefaults()
	}
	fs.IntVar(&cfg.MaxConns, "max-conns", 50, "maximum number of simultaneously connected clients")
	fs.IntVar(&cfg.BufferSize, "buffer", proto.MaxMessageSize, "per-read buffer size; longer sends arrive as several messages")
	fs.DurationVar(&cfg.PollTimeout, "poll-timeout", time.Second, "readiness wait timeout; bounds how long shutdown takes to be noticed")
	fs.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", time.Second, "time a new client has to send its name; the loop is stalled meanwhile, so keep it near -poll-timeout")
	fs.StringVar(&cfg.MetricsAddr, "metrics", "", "metrics, health and dashboard listen address (empty disables)")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "redis address for the shared roster (empty keeps it in memory)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number")
	fs.IntVar(&cfg.AcceptRate, "accept-rate", 0, "admissions per second per remote IP (0 = unlimited)")
	fs.IntVar(&cfg.MessageRate, "msg-rate", 0, "messages per second per client (0 = unlimited)")
	fs.IntVar(&cfg.Burst, "burst", 5, "token bucket size for -accept-rate and -msg-rate")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() != 3 {
		return cfg, errUsage
	}
	cfg.IP, cfg.Port = fs.Arg(0), fs.Arg(1)
	backlog, err := strconv.Atoi(fs.Arg(2))
	if err != nil || backlog <= 0 {
		return cfg, fmt.Errorf("invalid MAX_LISTENERS %q: must be a positive integer", fs.Arg(2))
	}
	cfg.Backlog = backlog
	if cfg.MaxConns <= 0 {
		return cfg, fmt.Errorf("invalid -max-conns %d", cfg.MaxConns)
	}
	return cfg, nil
}
