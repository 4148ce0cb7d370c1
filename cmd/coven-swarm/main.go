// ABOUTME: Entry point for coven-swarm, the agent supervisor server and its CLI client
// ABOUTME: Dispatches subcommands: serve, init, token, and the HTTP client commands

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/coven-swarm/internal/auth"
	"github.com/2389/coven-swarm/internal/config"
	"github.com/2389/coven-swarm/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _____      ____ _ _ __ _ __ ___
 / __/ _ \ \ / / _ \ '_ \ _____/ __\ \ /\ / / _' | '__| '_ ' _ \
| (_| (_) \ V /  __/ | | |_____\__ \\ V  V / (_| | |  | | | | | |
 \___\___/ \_/ \___|_| |_|     |___/ \_/\_/ \__,_|_|  |_| |_| |_|
`

const usage = `Usage: coven-swarm <command> [flags]

Commands:
  serve                      Start the supervisor server
  init                       Write a config file with a fresh jwt secret
  token                      Mint an API token
  health                     Check server readiness
  status                     Show resource usage and agent health
  agents                     List agents
  create                     Create one or more agents
  stop ID...                 Stop agents
  message ID TEXT            Send a task to an agent and print the reply
  broadcast TEXT             Send a task to every agent
  history ID                 Show an agent's lifecycle events
  version                    Print the version

Run "coven-swarm <command> --help" for command flags.
`

// errUsage marks errors already explained by printed usage.
var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1], os.Args[2:], os.Stdout)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "serve":
		return runServe(ctx, args)
	case "init":
		return runInit(args, out)
	case "token":
		return runToken(args, out)
	case "version", "--version":
		fmt.Fprintf(out, "coven-swarm %s\n", version)
		return nil
	case "help", "--help", "-h":
		fmt.Fprint(out, usage)
		return nil
	}

	if client, ok := clientCommands[cmd]; ok {
		return runClient(ctx, cmd, client, args, out)
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", cmd, usage)
	return errUsage
}

// loadConfig reads path, falling back to defaults when allowMissing is set
// and the file does not exist.
func loadConfig(path string, allowMissing bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if allowMissing && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("loading config: %w", err)
}

func runServe(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultPath(), "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", *configPath)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:  ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Max agents: %d\n", cfg.Supervisor.MaxAgents)
	green.Print("    ▶ ")
	if cfg.Database.Path != "" {
		fmt.Printf("Ledger:     %s\n", cfg.Database.Path)
	} else {
		fmt.Printf("Ledger:     ")
		gray.Println("disabled")
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! API authentication disabled (auth.jwt_secret not set)")
	}
	fmt.Println()

	logger.Info("starting coven-swarm",
		"config", *configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"max_agents", cfg.Supervisor.MaxAgents,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}

// generateSecret returns a random base64 HS256 secret.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func runInit(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultPath(), "config file to write")
	force := fs.Bool("force", false, "overwrite an existing file")
	httpAddr := fs.String("http-addr", "", "HTTP listen address")
	dbPath := fs.String("db", "", "ledger database path (default: next to the config)")
	maxAgents := fs.Int("max-agents", 0, "maximum concurrent agents")
	noAuth := fs.Bool("no-auth", false, "leave auth.jwt_secret empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*configPath); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *configPath)
	}

	cfg := config.Default()
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	cfg.Database.Path = *dbPath
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(filepath.Dir(*configPath), "swarm.db")
	}
	if *maxAgents > 0 {
		cfg.Supervisor.MaxAgents = *maxAgents
	}
	if !*noAuth {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		cfg.Auth.JWTSecret = secret
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	header := "# coven-swarm configuration\n# Generated by coven-swarm init\n\n"

	if err := os.MkdirAll(filepath.Dir(*configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(*configPath, append([]byte(header), data...), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Created config: %s\n", *configPath)
	fmt.Fprintf(out, "  Ledger:  %s\n", cfg.Database.Path)
	if cfg.Auth.JWTSecret != "" {
		fmt.Fprintln(out, "  Auth:    enabled (mint a token with: coven-swarm token --write)")
	}
	fmt.Fprintln(out, "\nTo start the server:\n  coven-swarm serve")
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", config.DefaultPath(), "config file path")
	subject := fs.StringP("subject", "s", "", "principal the token identifies (default: $USER)")
	role := fs.StringP("role", "r", auth.RoleOperator, "admin, operator or viewer")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	write := fs.Bool("write", false, "also save the token next to the config for client commands")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", *configPath)
	}

	sub := *subject
	if sub == "" {
		sub = os.Getenv("USER")
	}
	if sub == "" {
		return errors.New("--subject is required")
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(sub, *role, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	if *write {
		path := tokenPath(*configPath)
		if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
			return fmt.Errorf("writing token file: %w", err)
		}
		color.New(color.FgGreen).Fprintf(os.Stderr, "  ✓ Saved token: %s (expires %s)\n",
			path, time.Now().Add(*ttl).UTC().Format("Jan 02, 2006"))
	}
	fmt.Fprintln(out, token)
	return nil
}

// tokenPath is where token --write stores the token for client commands.
func tokenPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "swarm.token")
}
