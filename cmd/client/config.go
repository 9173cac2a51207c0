package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"
)

// Config holds client runtime configuration.
type Config struct {
	IP          string
	Port        string
	Name        string
	DialTimeout time.Duration
	Debug       bool
}

var errUsage = errors.New("wrong number of arguments")

func parseArgs(prog string, args []string, stderr io.Writer) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] <IP> <PORT> <UNAME>\n", prog)
		fs.PrintDefaults()
	}
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", 5*time.Second, "time allowed to connect to the relay")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() != 3 {
		return cfg, errUsage
	}
	cfg.IP, cfg.Port, cfg.Name = fs.Arg(0), fs.Arg(1), fs.Arg(2)
	if cfg.Name == "" {
		return cfg, errors.New("UNAME must not be empty")
	}
	return cfg, nil
}
