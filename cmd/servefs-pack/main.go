// Command servefs-pack bundles a directory tree into a servefs package
// file for embedded serving.
//
// Usage:
//
//	servefs-pack [--out assets.pack] [--encodings gzip,deflate]
//	             [--all-variants] [--max-files n] [--min-size n] [-v] <dir>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/silvermint/servefs/fsys"
	"github.com/silvermint/servefs/pack"
)

func main() {
	out := pflag.StringP("out", "o", "assets.pack", "output package file")
	encodings := pflag.StringSlice("encodings", []string{"gzip", "deflate"}, "compressed variants to precompute")
	allVariants := pflag.Bool("all-variants", false, "keep compressed variants even when not smaller")
	maxFiles := pflag.Int("max-files", 0, "file count limit (0 = default, negative = unlimited)")
	minSize := pflag.Int64("min-size", 256, "skip compressing files smaller than this many bytes")
	verbose := pflag.BoolP("verbose", "v", false, "debug logging")
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: servefs-pack [flags] <dir>")
		pflag.PrintDefaults()
		os.Exit(2)
	}
	dir := pflag.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	encs, err := parseEncodings(*encodings)
	if err != nil {
		logger.Error("invalid --encodings", "error", err)
		os.Exit(2)
	}

	if err := build(ctx, logger, dir, *out, encs, *allVariants, *maxFiles, *minSize); err != nil {
		logger.Error("packaging failed", "error", err)
		os.Exit(1)
	}
}

func build(ctx context.Context, logger *slog.Logger, dir, out string, encs []fsys.Encoding, allVariants bool, maxFiles int, minSize int64) error {
	f, err := os.Create(out) //nolint:gosec // user-provided output path is intentional
	if err != nil {
		return err
	}

	opts := []pack.CreateOption{
		pack.CreateWithLogger(logger),
		pack.CreateWithEncodings(encs...),
		pack.CreateWithMaxFiles(maxFiles),
		pack.CreateWithSkipCompression(pack.DefaultSkipCompression(minSize)),
	}
	if allVariants {
		opts = append(opts, pack.CreateWithAllVariants())
	}

	if err := pack.Create(ctx, dir, f, opts...); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(out)
		return err
	}
	logger.Info("package created", "path", out)
	return nil
}

func parseEncodings(names []string) ([]fsys.Encoding, error) {
	encs := make([]fsys.Encoding, 0, len(names))
	for _, name := range names {
		switch name {
		case "gzip":
			encs = append(encs, fsys.EncodingGzip)
		case "deflate":
			encs = append(encs, fsys.EncodingDeflate)
		case "":
		default:
			return nil, fmt.Errorf("unknown encoding %q", name)
		}
	}
	return encs, nil
}
