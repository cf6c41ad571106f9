package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bagtools/remux/internal/config"
	"github.com/bagtools/remux/internal/logger"
	"github.com/bagtools/remux/internal/metrics"
	"github.com/bagtools/remux/internal/msgdef"
	"github.com/bagtools/remux/internal/remux"
	"github.com/bagtools/remux/internal/tracing"
	"github.com/bagtools/remux/internal/version"
)

const usage = `Usage: remux <command> [flags] <input> <output>

Commands:
  convert   Transcode mcap file(s), applying the configured edits
  cut       Split one mcap file into multiple output files
  version   Print version information

Run 'remux <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "convert":
		err = runConvert(os.Args[2:])
	case "cut":
		err = runCut(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log := logger.Logger()
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setup(name string, args []string) (*config.Config, []string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfg, err := config.Load(fs, args)
	if err != nil {
		return nil, nil, err
	}

	if err := logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Rotation:   cfg.Logging.Rotation,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}); err != nil {
		return nil, nil, err
	}

	return cfg, fs.Args(), nil
}

// newResolver builds the definition resolver: local trees first, then the
// downloaded interface archives, backed by the persistent cache when a
// cache directory is configured.
func newResolver(settings *config.Settings, cacheDir string) (*msgdef.Resolver, func(), error) {
	var sources []msgdef.Source
	if settings.MsgFolder != "" {
		if _, err := os.Stat(settings.MsgFolder); err == nil {
			sources = append(sources, msgdef.NewDirSource(settings.MsgFolder))
		}
	}

	archiveDir := filepath.Join(os.TempDir(), "remux-msgs")
	if cacheDir != "" {
		archiveDir = filepath.Join(cacheDir, "archives")
	}
	sources = append(sources, msgdef.NewArchiveSource(archiveDir, settings.ROSDistro, nil))

	var store msgdef.Store = msgdef.NopStore{}
	cleanup := func() {}
	if cacheDir != "" {
		pebbleStore, err := msgdef.OpenPebbleStore(filepath.Join(cacheDir, "definitions"))
		if err != nil {
			return nil, nil, err
		}
		store = pebbleStore
		cleanup = func() { pebbleStore.Close() }
	}

	return msgdef.NewResolver(sources, store, settings.ROSDistro), cleanup, nil
}

func runConvert(args []string) error {
	cfg, rest, err := setup("convert", args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("convert needs <input> and <output> arguments")
	}
	inputPath, outputPath := rest[0], rest[1]

	settings, rawSettings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return err
	}

	log := logger.WithComponent("main")

	collector := metrics.NewCollector()
	convertMetrics := metrics.NewConvertMetrics(collector)
	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, collector.GetRegistry())
		if err := server.Start(context.Background()); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Stop(ctx)
		}()
	}

	tracingCfg := cfg.Tracing
	if tracingCfg.ServiceVersion == "" {
		tracingCfg.ServiceVersion = version.Get().Version
	}
	provider, err := tracing.NewProvider(tracingCfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		provider.Shutdown(ctx)
	}()
	tracer := provider.GetTracer("convert")

	resolver, cleanup, err := newResolver(settings, cfg.Cache.Dir)
	if err != nil {
		return err
	}
	defer cleanup()

	tasks, err := collectTasks(inputPath, outputPath, cfg.Overwrite)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		log.Info().Msg("no files to convert")
		return nil
	}

	failures := 0
	for _, task := range tasks {
		log.Info().Str("input", task.input).Str("output", task.output).Msg("converting")
		if err := tracedConvert(tracer, task, func() error {
			return convertFile(settings, rawSettings, resolver, convertMetrics, task)
		}); err != nil {
			// One broken file must not sink the batch.
			log.Error().Err(err).Str("input", task.input).Msg("conversion failed")
			failures++
			continue
		}
		log.Info().Str("output", task.output).Msg("done")
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d files failed", failures, len(tasks))
	}
	return nil
}

// tracedConvert wraps one file conversion in a span.
func tracedConvert(tracer trace.Tracer, task convertTask, fn func() error) error {
	_, span := tracer.Start(context.Background(), "convert_file", trace.WithAttributes(
		attribute.String(tracing.AttrInputPath, task.input),
		attribute.String(tracing.AttrOutputPath, task.output),
	))
	defer span.End()

	if err := fn(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func convertFile(settings *config.Settings, rawSettings []byte, resolver *msgdef.Resolver, m *metrics.ConvertMetrics, task convertTask) error {
	conv, err := remux.NewConverter(settings, rawSettings, resolver, m, task.input, task.output)
	if err != nil {
		return err
	}
	if err := conv.ProcessFile(); err != nil {
		conv.Finish()
		return err
	}
	return conv.Finish()
}

type convertTask struct {
	input  string
	output string
}

// collectTasks expands a file or directory input into conversion tasks.
// Existing outputs are skipped unless overwriting was requested.
func collectTasks(inputPath, outputPath string, overwrite bool) ([]convertTask, error) {
	log := logger.WithComponent("main")

	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, err
	}

	var tasks []convertTask
	add := func(in, out string) {
		if !overwrite {
			if _, err := os.Stat(out); err == nil {
				log.Info().Str("output", out).Msg("output exists, skipping")
				return
			}
		}
		tasks = append(tasks, convertTask{input: in, output: out})
	}

	if !info.IsDir() {
		add(inputPath, filepath.Join(outputPath, filepath.Base(inputPath)))
		return tasks, nil
	}

	err = filepath.WalkDir(inputPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".mcap") {
			return nil
		}
		rel, err := filepath.Rel(inputPath, path)
		if err != nil {
			return err
		}
		add(path, filepath.Join(outputPath, rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func runCut(args []string) error {
	cfg, rest, err := setup("cut", args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("cut needs <input> and <output-dir> arguments")
	}
	if cfg.SettingsFile == "" {
		return fmt.Errorf("cut needs -config with the split settings")
	}

	settings, err := config.LoadCutSettings(cfg.SettingsFile)
	if err != nil {
		return err
	}

	return remux.NewCutter(settings).Run(rest[0], rest[1])
}
