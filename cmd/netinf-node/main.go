package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/imdevinc/netinf-node/internal/config"
	"github.com/imdevinc/netinf-node/internal/content"
	"github.com/imdevinc/netinf-node/internal/node"
	"github.com/imdevinc/netinf-node/internal/storage"
	"github.com/imdevinc/netinf-node/internal/util"
)

const (
	envConfigKey = "NETINF_CONFIG"
	envDBKey     = "NETINF_DATA"
)

var (
	// version is set via ldflags during build
	version = "dev"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: netinf-node [flags] <command> [args]

Commands:
  serve                 serve the local store and watch the publish directory (default)
  fetch [flags]         retrieve content by object descriptor or ni URI
  publish <file>...     ingest files into the local store

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	// Parse CLI flags
	configPath := flag.String("config", "", "Path to configuration file (overrides default)")
	dbPath := flag.String("db", "", "Path to database file (overrides default)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("netinf-node version %s\n", version)
		os.Exit(0)
	}

	// Determine config file path with precedence: CLI flag > env var > XDG default
	finalConfigPath := *configPath
	explicitConfig := finalConfigPath != ""
	if finalConfigPath == "" {
		if envPath := os.Getenv(envConfigKey); envPath != "" {
			finalConfigPath = envPath
			explicitConfig = true
		} else {
			finalConfigPath = util.GetDefaultConfigPath()
		}
	}

	// Determine database path with precedence: CLI flag > env var > XDG default
	finalDBPath := *dbPath
	if finalDBPath == "" {
		if envPath := os.Getenv(envDBKey); envPath != "" {
			finalDBPath = envPath
		} else {
			finalDBPath = util.GetDefaultDBPath()
		}
	}

	cfg, err := loadConfig(finalConfigPath, explicitConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Logs go to stderr so fetch can stream content to stdout
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Debug("Configuration", "path", finalConfigPath, "providers", len(cfg.Providers))
	slog.Debug("Database", "path", finalDBPath)

	if err := os.MkdirAll(filepath.Dir(finalDBPath), 0755); err != nil {
		slog.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewStore(finalDBPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	command := "serve"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		err = runServe(cfg, store)
	case "fetch":
		err = runFetch(cfg, store, args)
	case "publish":
		err = runPublish(cfg, store, args)
	default:
		usage()
		err = fmt.Errorf("unknown command %q", command)
	}

	if err != nil {
		slog.Error("Command failed", "command", command, "error", err)
		store.Close()
		os.Exit(1)
	}
}

// loadConfig falls back to defaults when the implicit config file does not
// exist. An explicitly named file must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServe(cfg *config.Config, store *storage.Store) error {
	n, err := node.New(cfg, store)
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := n.Start(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\nNetInf node serving on %s\n", n.Addr())
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")

	<-sigChan
	slog.Info("Shutdown signal received")

	return n.Stop()
}

// stringList collects a repeatable flag
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runFetch(cfg *config.Config, store *storage.Store, args []string) error {
	fset := flag.NewFlagSet("fetch", flag.ExitOnError)
	objectPath := fset.String("object", "", "Path to a JSON content object descriptor")
	uri := fset.String("uri", "", "ni URI of the content (ni:///alg;value)")
	rawURL := fset.String("url", "", "Plain http(s) URL to download instead of named content")
	outPath := fset.String("out", "", "Write content to this file instead of stdout")
	var locators stringList
	fset.Var(&locators, "locator", "Locator to try, highest priority first (repeatable)")
	fset.Parse(args)

	d, err := node.NewDispatcher(cfg, store)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var body io.ReadCloser
	if *rawURL != "" {
		body, err = d.OpenStream(ctx, *rawURL)
	} else {
		var obj *content.Object
		obj, err = resolveObject(store, *objectPath, *uri, locators)
		if err != nil {
			return err
		}
		slog.Info("Fetching", "uri", obj.Handle.URI(), "attributes", len(obj.Attributes))
		body, err = d.OpenObject(ctx, obj)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	out := io.Writer(os.Stdout)
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	n, err := io.Copy(out, body)
	if err != nil {
		return err
	}
	slog.Info("Fetch complete", "bytes", n)
	return nil
}

// resolveObject builds the object to fetch from a descriptor file, from a
// URI with explicit locators, or from a descriptor recorded in the store
func resolveObject(store *storage.Store, objectPath, uri string, locators []string) (*content.Object, error) {
	if objectPath != "" {
		data, err := os.ReadFile(objectPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read object: %w", err)
		}
		var obj content.Object
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("failed to parse object: %w", err)
		}
		return &obj, nil
	}

	if uri == "" {
		return nil, errors.New("fetch needs -object, -uri or -url")
	}
	handle, err := content.ParseHandle(uri)
	if err != nil {
		return nil, err
	}

	if len(locators) == 0 {
		obj, err := store.GetObject(handle.URI())
		if err != nil {
			return nil, fmt.Errorf("no locators given and no stored descriptor for %s: %w", handle.URI(), err)
		}
		return obj, nil
	}

	obj := &content.Object{Handle: handle}
	for i, loc := range locators {
		obj.Attributes = append(obj.Attributes, content.LocatorAttr(loc, i+1))
	}
	return obj, nil
}

func runPublish(cfg *config.Config, store *storage.Store, args []string) error {
	fset := flag.NewFlagSet("publish", flag.ExitOnError)
	emitJSON := fset.Bool("json", false, "Print the object descriptor as JSON")
	fset.Parse(args)
	if fset.NArg() == 0 {
		return errors.New("publish needs at least one file")
	}

	pub, err := node.NewPublisher(cfg, store)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, path := range fset.Args() {
		obj, err := pub.Ingest(ctx, path)
		if err != nil {
			return err
		}
		if *emitJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(obj); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("%s\t%s\n", obj.Handle.URI(), path)
	}
	return nil
}
