// Package main provides formdraft, an administration tool for inspecting and
// cleaning up stored form drafts, preferences and consent records.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/formdraft/pkg/config"
	"github.com/entrhq/formdraft/pkg/kv"
)

const version = "0.1.0"

// Config holds the command-line configuration
type Config struct {
	StoreKind     string
	StorePath     string
	ConfigFile    string
	FormKey       string
	AssumeConsent bool
	ShowVersion   bool
	Args          []string
}

func main() {
	cfg := parseFlags(os.Args[1:])

	if cfg.ShowVersion {
		fmt.Printf("formdraft v%s\n", version)
		return
	}

	if err := cfg.validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		cancel()
		log.Fatalf("Error: %v", err)
	}
}

func parseFlags(args []string) *Config {
	cfg := &Config{}
	fs := flag.NewFlagSet("formdraft", flag.ExitOnError)

	fs.StringVar(&cfg.StoreKind, "store", "file", "Storage backend: file or sqlite")
	fs.StringVar(&cfg.StorePath, "path", "formdraft.json", "Path of the storage file or database")
	fs.StringVar(&cfg.ConfigFile, "config", "", "Engine configuration file (YAML)")
	fs.StringVar(&cfg.FormKey, "form", "", "Form key (overrides form_key from -config)")
	fs.BoolVar(&cfg.AssumeConsent, "assume-consent", true, "Act as if storage consent was granted when no consent record exists")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "formdraft - inspect and manage stored form drafts\n\n")
		fmt.Fprintf(os.Stderr, "Usage: formdraft [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  list                 List drafts of -form, newest first\n")
		fmt.Fprintf(os.Stderr, "  show <n|id>          Print a decoded draft\n")
		fmt.Fprintf(os.Stderr, "  delete <id>          Delete one draft\n")
		fmt.Fprintf(os.Stderr, "  clear                Delete every draft of -form\n")
		fmt.Fprintf(os.Stderr, "  offer                Offer stored drafts interactively and print the restored form\n")
		fmt.Fprintf(os.Stderr, "  forms                List forms that have drafts\n")
		fmt.Fprintf(os.Stderr, "  purge [form...]      Delete drafts of the given (or all) forms, ignoring consent\n")
		fmt.Fprintf(os.Stderr, "  prune                Remove expired entries (sqlite only)\n")
		fmt.Fprintf(os.Stderr, "  prefs [key=value...] Show or change form preferences\n")
		fmt.Fprintf(os.Stderr, "  remember [field=value...]\n")
		fmt.Fprintf(os.Stderr, "                       Show or add remembered values of -form\n")
		fmt.Fprintf(os.Stderr, "  consent [accept|reject|revoke]\n")
		fmt.Fprintf(os.Stderr, "                       Show or change the stored consent record\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  formdraft -form appointment list\n")
		fmt.Fprintf(os.Stderr, "  formdraft -store sqlite -path drafts.db -config engine.yaml show 1\n")
		fmt.Fprintf(os.Stderr, "  formdraft prefs auto_save=false auto_save_interval=60s\n")
	}

	_ = fs.Parse(args)
	cfg.Args = fs.Args()
	return cfg
}

// validate checks that the configuration is valid
func (c *Config) validate() error {
	if c.StoreKind != "file" && c.StoreKind != "sqlite" {
		return fmt.Errorf("unknown store %q (use file or sqlite)", c.StoreKind)
	}
	if c.StorePath == "" {
		return fmt.Errorf("a storage path is required (use -path flag)")
	}
	if len(c.Args) == 0 {
		return fmt.Errorf("a command is required (run with -h for usage)")
	}
	return nil
}

// engineConfig loads -config and applies -form on top of it.
func (c *Config) engineConfig() (config.Engine, error) {
	var e config.Engine
	if c.ConfigFile != "" {
		loaded, err := config.LoadFile(c.ConfigFile)
		if err != nil {
			return config.Engine{}, err
		}
		e = loaded
	}
	if c.FormKey != "" {
		e.FormKey = c.FormKey
	}
	return e.WithDefaults(), nil
}

// openStore opens the configured backend. The returned closer is never nil.
func (c *Config) openStore() (kv.Store, func() error, error) {
	switch c.StoreKind {
	case "sqlite":
		db, err := kv.OpenSQLite(c.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return db, db.Close, nil
	default:
		f, err := kv.NewFile(c.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return f, func() error { return nil }, nil
	}
}

func run(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	store, closeStore, err := cfg.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	}()

	app, err := newApp(ctx, cfg, store, in, out)
	if err != nil {
		return err
	}
	return app.dispatch(ctx, cfg.Args[0], cfg.Args[1:])
}
