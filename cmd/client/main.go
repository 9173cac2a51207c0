package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/matst80/chatrelay/internal/netaddr"
	"github.com/matst80/chatrelay/internal/obs"
	"github.com/matst80/chatrelay/internal/proto"
)

const exitUsage = 64

func main() {
	os.Exit(run(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := parseArgs(prog, args, stderr)
	if err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "Usage: %s [flags] <IP> <PORT> <UNAME>\n", prog)
		default:
			fmt.Fprintln(stderr, err)
		}
		return exitUsage
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	addr, err := netaddr.Parse(cfg.IP, cfg.Port)
	if err != nil {
		obs.Error("client.addr", obs.Fields{"err": err.Error()})
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, addr.Network(), addr.String())
	if err != nil {
		obs.Error("client.dial", obs.Fields{"err": err.Error(), "addr": addr.String()})
		fmt.Fprintf(stderr, "Could not connect to server IP : %s PORT : %d\n", addr.IP, addr.Port)
		return 1
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(cfg.Name)); err != nil {
		obs.Error("client.handshake", obs.Fields{"err": err.Error()})
		return 1
	}
	fmt.Fprintln(stdout, "Connection established")
	obs.Debug("client.connected", obs.Fields{"addr": addr.String(), "name": cfg.Name})

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		receive(conn, stdout)
	}()
	done := make(chan struct{})
	defer close(done)
	lines := readLines(stdin, done)

	for {
		select {
		case <-recvDone:
			return 0
		case <-ctx.Done():
			obs.Info("client.signal", obs.Fields{})
			_ = conn.Close()
			<-recvDone
			return 0
		case line, ok := <-lines:
			if !ok {
				obs.Debug("client.stdin.closed", obs.Fields{})
				_ = conn.Close()
				<-recvDone
				return 0
			}
			if line[0] == '0' {
				fmt.Fprintln(stdout, "Closing connection")
				_ = conn.Close()
				<-recvDone
				return 0
			}
			if _, err := conn.Write(line); err != nil {
				obs.Error("client.send", obs.Fields{"err": err.Error()})
			}
		}
	}
}

// receive copies everything the relay sends to out until the connection ends.
func receive(conn net.Conn, out io.Writer) {
	buf := make([]byte, proto.MaxMessageSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			_, _ = out.Write(buf[:n])
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			fmt.Fprintln(out, "Server closed connection")
			return
		case errors.Is(err, net.ErrClosed):
			return
		default:
			obs.Error("client.recv", obs.Fields{"err": err.Error()})
			return
		}
	}
}

// readLines delivers stdin one line at a time, newline included. The channel
// is closed at EOF or once done is closed.
func readLines(r io.Reader, done <-chan struct{}) <-chan []byte {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		br := bufio.NewReaderSize(r, proto.MaxMessageSize)
		for {
			line, err := br.ReadBytes('\n')
			if len(line) > 0 {
				select {
				case ch <- line:
				case <-done:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}
