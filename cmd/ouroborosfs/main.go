// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazardous-sun/ouroboros-fs/internal/config"
	"github.com/hazardous-sun/ouroboros-fs/internal/gateway"
	"github.com/hazardous-sun/ouroboros-fs/internal/logging"
	"github.com/hazardous-sun/ouroboros-fs/internal/protocol"
	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runNode(os.Args[2:])
	case "set-network":
		err = setNetwork(os.Args[2:])
	case "gateway":
		err = runGateway(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ouroborosfs <run|set-network|gateway> [flags]")
}

// runNode runs a single ring peer. This is also the exact shape the gossip
// healing workflow self-spawns (`exe run --addr <addr>`), so --addr must
// remain the only flag a cold, config-less invocation needs.
func runNode(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	addr := fs.String("addr", "", "address to listen on, host:port (required)")
	next := fs.String("next", "", "successor address, host:port (optional; filled in later by heal resync if omitted)")
	configPath := fs.String("config", "", "path to a node YAML config file; flags below are used when this is empty")
	dataDir := fs.String("data-dir", "nodes", "base directory for chunk storage")
	gossipInterval := fs.Duration("gossip-interval", 5*time.Second, "gossip tick interval")
	gossipTimeout := fs.Duration("gossip-timeout", 2*time.Second, "ping/hop deadline")
	healPollTimeout := fs.Duration("heal-poll-timeout", 30*time.Second, "bound on polling a healed replacement for reachability")
	healSchedule := fs.String("heal-schedule", "", "cron expression for a periodic NODE HEAL sweep (empty disables it)")
	relayRateLimit := fs.Int64("relay-rate-limit-bytes-per-sec", 0, "throttle relay forwarding, 0 disables it")
	logLevel := fs.String("log-level", "info", "debug|info|warn|error")
	logFormat := fs.String("log-format", "json", "json|text")
	logFile := fs.String("log-file", "", "optional log file path, in addition to stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg *config.NodeConfig
	if *configPath != "" {
		loaded, err := config.LoadNodeConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		if *addr == "" {
			return fmt.Errorf("--addr is required")
		}
		cfg = &config.NodeConfig{
			Addr:                      *addr,
			Next:                      *next,
			DataDir:                   *dataDir,
			GossipInterval:            *gossipInterval,
			GossipTimeout:             *gossipTimeout,
			HealPollTimeout:           *healPollTimeout,
			HealSchedule:              *healSchedule,
			RelayRateLimitBytesPerSec: *relayRateLimit,
			Logging:                   config.LoggingInfo{Level: *logLevel, Format: *logFormat},
		}
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, *logFile)
	defer closer.Close()

	node, err := ring.NewNode(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyShutdown(logger, cancel)

	return node.Run(ctx)
}

// runGateway runs a standalone protocol-sniffing gateway in front of an
// already-running ring, reading its bootstrap peer list and listen address
// from a YAML config file.
func runGateway(args []string) error {
	fs := flag.NewFlagSet("gateway", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a gateway YAML config file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.LoadGatewayConfig(*configPath)
	if err != nil {
		return err
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyShutdown(logger, cancel)

	return gateway.New(cfg, logger).Run(ctx)
}

// setNetwork spawns --nodes child peers on consecutive ports starting at
// --base-port, wires them into a ring with NODE NEXT, optionally starts an
// in-process gateway on --dns-port, and supervises all of it until a signal
// arrives.
func setNetwork(args []string) error {
	fs := flag.NewFlagSet("set-network", flag.ExitOnError)
	nodeCount := fs.Int("nodes", 0, "number of peers to spawn (required)")
	basePort := fs.Int("base-port", 0, "first peer's port; peers use consecutive ports from here (required)")
	dnsPort := fs.Int("dns-port", 0, "gateway listen port; 0 disables the gateway")
	host := fs.String("host", "127.0.0.1", "host every spawned peer binds on")
	dataDir := fs.String("data-dir", "nodes", "base directory for chunk storage, shared by all spawned peers")
	logLevel := fs.String("log-level", "info", "debug|info|warn|error")
	logFormat := fs.String("log-format", "json", "json|text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *nodeCount <= 0 {
		return fmt.Errorf("--nodes must be positive")
	}
	if *basePort <= 0 {
		return fmt.Errorf("--base-port must be positive")
	}

	logger, closer := logging.NewLogger(*logLevel, *logFormat, "")
	defer closer.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving self executable: %w", err)
	}

	addrs := make([]string, *nodeCount)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("%s:%d", *host, *basePort+i)
	}

	cmds := make([]*exec.Cmd, 0, len(addrs))
	for _, addr := range addrs {
		cmd := exec.Command(exe, "run",
			"--addr", addr,
			"--data-dir", *dataDir,
			"--log-level", *logLevel,
			"--log-format", *logFormat,
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			terminateAll(cmds)
			return fmt.Errorf("starting peer %s: %w", addr, err)
		}
		cmds = append(cmds, cmd)
	}

	for _, addr := range addrs {
		if !waitReachable(addr, 10*time.Second) {
			terminateAll(cmds)
			return fmt.Errorf("peer %s never came up", addr)
		}
	}

	for i, addr := range addrs {
		next := addrs[(i+1)%len(addrs)]
		if err := sendOneLine(addr, fmt.Sprintf("NODE NEXT %s", next)); err != nil {
			terminateAll(cmds)
			return fmt.Errorf("wiring NODE NEXT on %s: %w", addr, err)
		}
	}
	logger.Info("ring wired", "peers", addrs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *dnsPort > 0 {
		gwCfg := &config.GatewayConfig{
			Listen:          fmt.Sprintf("%s:%d", *host, *dnsPort),
			Bootstrap:       addrs,
			RefreshInterval: 10 * time.Second,
			Logging:         config.LoggingInfo{Level: *logLevel, Format: *logFormat},
		}
		gw := gateway.New(gwCfg, logger)
		go func() {
			if err := gw.Run(ctx); err != nil {
				logger.Error("gateway exited", "error", err)
			}
		}()
		logger.Info("gateway listening", "addr", gwCfg.Listen)
	}

	notifyShutdown(logger, cancel)
	<-ctx.Done()

	terminateAll(cmds)
	for _, cmd := range cmds {
		cmd.Wait()
	}
	return nil
}

func notifyShutdown(logger interface {
	Info(msg string, args ...interface{})
}, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()
}

func terminateAll(cmds []*exec.Cmd) {
	for _, cmd := range cmds {
		if cmd.Process != nil {
			cmd.Process.Signal(syscall.SIGTERM)
		}
	}
}

func waitReachable(addr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// sendOneLine opens a connection, writes line, and waits for the OK/ERR
// response — the same "one line out, one line back" control exchange the
// ring's own handlers use for NODE NEXT during heal resync.
func sendOneLine(addr, line string) error {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := protocol.WriteLine(conn, line); err != nil {
		return err
	}
	resp, err := protocol.ReadLine(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if werr, ok := protocol.ParseWireError(resp); ok {
		return werr
	}
	return nil
}
