// Command witq sends text and voice queries to an intent-recognition backend
// and can serve the same operations over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/vango-go/wit-lite/internal/dotenv"
	"github.com/vango-go/wit-lite/pkg/config"
	"github.com/vango-go/wit-lite/pkg/core"
	"github.com/vango-go/wit-lite/pkg/core/audio"
	"github.com/vango-go/wit-lite/pkg/core/backends"
	"github.com/vango-go/wit-lite/pkg/journal"
	"github.com/vango-go/wit-lite/pkg/metrics"
	wit "github.com/vango-go/wit-lite/sdk"
)

type cliDeps struct {
	loadConfig     func() (config.Config, error)
	newBackend     func(cfg config.Config, onAudio func(int)) (core.Backend, error)
	openJournal    func(ctx context.Context, databaseURL string) (*journal.Store, error)
	migrate        func(ctx context.Context, databaseURL string, logger *slog.Logger) error
	captureDevices func() ([]string, error)
	stdin          io.Reader
	signalNotify   func(chan<- os.Signal, ...os.Signal)
	signalStop     func(chan<- os.Signal)
}

func defaultCLIDeps() cliDeps {
	return cliDeps{
		loadConfig: config.LoadFromEnv,
		newBackend: func(cfg config.Config, onAudio func(int)) (core.Backend, error) {
			return backends.Factory{OnAudio: onAudio}.New(cfg)
		},
		openJournal:    journal.Open,
		migrate:        journal.Migrate,
		captureDevices: audio.CaptureDevices,
		stdin:          os.Stdin,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

type globalFlags struct {
	envFile   string
	backend   string
	token     string
	device    string
	audioFile string
	verbosity int
}

type app struct {
	ctx    context.Context
	deps   cliDeps
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "witq",
		Short:         "Query an intent-recognition backend from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.envFile, "env-file", ".env", "optional dotenv file loaded before WIT_* variables are read")
	pf.StringVar(&a.flags.backend, "backend", "", "backend to use: "+strings.Join(backends.Names(), ", ")+" (overrides WIT_BACKEND)")
	pf.StringVar(&a.flags.token, "token", "", "access token (overrides WIT_ACCESS_TOKEN)")
	pf.StringVar(&a.flags.device, "device", "", "capture device selector (overrides WIT_AUDIO_DEVICE)")
	pf.StringVar(&a.flags.audioFile, "audio-file", "", "read voice audio from a WAV or raw PCM file instead of the microphone")
	pf.IntVarP(&a.flags.verbosity, "verbosity", "v", wit.DefaultVerbosity, "log verbosity, 0 (errors only) to 4 (debug)")

	root.AddCommand(
		newTextCmd(a),
		newVoiceCmd(a),
		newAutoCmd(a),
		newDevicesCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newMigrateCmd(a),
	)
	return root
}

// config loads WIT_* settings and applies flag overrides.
func (a *app) config(cmd *cobra.Command) (config.Config, error) {
	if err := dotenv.Load(a.flags.envFile); err != nil {
		return config.Config{}, err
	}
	if a.deps.loadConfig == nil {
		return config.Config{}, fmt.Errorf("missing loadConfig dependency")
	}
	cfg, err := a.deps.loadConfig()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = a.flags.backend
	}
	if flags.Changed("token") {
		cfg.AccessToken = a.flags.token
	}
	if flags.Changed("device") {
		cfg.AudioDevice = a.flags.device
	}
	if flags.Changed("verbosity") {
		cfg.Verbosity = a.flags.verbosity
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (a *app) logger(verbosity int) *slog.Logger {
	handler := log.NewWithOptions(a.stderr, log.Options{
		Level:           log.Level(wit.LevelForVerbosity(verbosity)),
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "witq",
	})
	return slog.New(handler)
}

// session is an initialized client plus everything that must be released
// with it.
type session struct {
	client   *wit.Client
	logger   *slog.Logger
	cfg      config.Config
	journal  *journal.Store
	uploaded *byteCounter
}

func (a *app) openSession(cfg config.Config, m *metrics.Metrics) (*session, error) {
	logger := a.logger(cfg.Verbosity)
	s := &session{logger: logger, cfg: cfg, uploaded: &byteCounter{}}

	backend, err := a.deps.newBackend(cfg, s.uploaded.add)
	if err != nil {
		return nil, err
	}
	opts := []wit.ClientOption{
		wit.WithConfig(cfg),
		wit.WithBackend(backend),
		wit.WithLogger(logger),
	}
	if m != nil {
		opts = append(opts, wit.WithMetrics(m))
	}
	if a.flags.audioFile != "" {
		opts = append(opts, wit.WithAudioSource(&audio.FileSource{Path: a.flags.audioFile}))
	}
	if cfg.DatabaseURL != "" {
		store, err := a.deps.openJournal(a.ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		s.journal = store
		opts = append(opts, wit.WithJournal(store))
	}

	client, err := wit.Init(opts...)
	if err != nil {
		s.closeJournal()
		return nil, err
	}
	s.client = client
	return s, nil
}

func (s *session) Close() error {
	grace := s.cfg.ShutdownGracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := s.client.Close(ctx)
	s.closeJournal()
	return err
}

func (s *session) closeJournal() {
	if s.journal != nil {
		s.journal.Close()
	}
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	a := &app{ctx: ctx, deps: deps, stdout: stdout, stderr: stderr}

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "witq: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultCLIDeps()))
}
