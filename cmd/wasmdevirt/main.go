package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-devirt/errors"
	"github.com/wippyai/wasm-devirt/internal/devirt"
	"github.com/wippyai/wasm-devirt/internal/profile"
)

func main() {
	var (
		input       = flag.String("i", "", "Path to input WASM module (also --input)")
		inputLong   = flag.String("input", "", "Path to input WASM module")
		output      = flag.String("o", "", "Path to output WASM module (also --output)")
		outputLong  = flag.String("output", "", "Path to output WASM module")
		profilePath = flag.String("profile", "", "Path to profile (MessagePack); present selects optimize mode")
		interactive = flag.Bool("interactive", false, "Show the post-rewrite summary as a TUI")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	in := firstNonEmpty(*input, *inputLong)
	out := firstNonEmpty(*output, *outputLong)
	if in == "" || out == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasmdevirt -i <file.wasm> -o <out.wasm> [--profile <profile.msgpack>]")
		os.Exit(1)
	}

	if err := run(in, out, *profilePath, *interactive, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func run(inputPath, outputPath, profilePath string, interactive, verbose bool) error {
	log, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()
	sugar := log.Sugar()

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "read input module")
	}

	cfg := devirt.Config{Logger: sugar}
	if profilePath != "" {
		profData, err := os.ReadFile(profilePath)
		if err != nil {
			return errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err, "read profile")
		}
		prof, err := profile.Decode(profData)
		if err != nil {
			return err
		}
		cfg.Profile = prof
		sugar.Infof("running optimize mode with profile %s", profilePath)
	} else {
		sugar.Infof("running instrument mode")
	}

	eng := devirt.New(cfg)
	result, summary, err := eng.Transform(data)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, result, 0o644); err != nil {
		return errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "write output module")
	}

	if interactive {
		return runInteractive(summary, outputPath)
	}

	fmt.Println(summary.String())
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
