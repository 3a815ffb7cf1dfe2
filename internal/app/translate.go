package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/lingo/internal/cli"
	"horse.fit/lingo/internal/config"
	"horse.fit/lingo/internal/logging"
)

func runTranslate(args []string) int {
	fs := flag.NewFlagSet("translate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	text := fs.String("text", "", "Text to translate")
	sourceLang := fs.String("from", "", "Source language code (empty = auto-detect)")
	targetLang := fs.String("to", "", "Target language code")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall request timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *text == "" || *targetLang == "" {
		fmt.Fprintln(os.Stderr, "--text and --to are required")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	pipe, err := buildPipeline(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}
	defer pipe.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := pipe.start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start pipeline: %v\n", err)
		return 1
	}

	translated, err := pipe.gateway.TranslateText(ctx, *text, *sourceLang, *targetLang)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Translation failed: %v\n", err)
		return 1
	}

	fmt.Fprintln(os.Stdout, translated)
	return 0
}
