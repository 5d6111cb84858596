package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/speechtext/speechtext/internal/audio"
	"github.com/speechtext/speechtext/internal/bus"
	"github.com/speechtext/speechtext/internal/config"
	"github.com/speechtext/speechtext/internal/deps"
	"github.com/speechtext/speechtext/internal/display"
	"github.com/speechtext/speechtext/internal/injection"
	"github.com/speechtext/speechtext/internal/notify"
	"github.com/speechtext/speechtext/internal/output"
	"github.com/speechtext/speechtext/internal/pipeline"
	"github.com/speechtext/speechtext/internal/transcription"
)

var (
	styleDeviceIndex = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#06B6D4"))
	styleDeviceInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("#94A3B8"))
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		deviceIndex  int
		language     string
		provider     string
		noAutoOutput bool
		configPath   string
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:           "speechtext",
		Short:         "Stream microphone audio to a speech API and type the transcript",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
			err := runDictation(cmd.Context(), deviceIndex, language, provider, noAutoOutput, configPath)
			if err != nil {
				log.Error("fatal", "err", err)
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&deviceIndex, "device", "d", 0, "audio input device index")
	cmd.Flags().StringVarP(&language, "language", "l", "", "language code (default from config, en-US)")
	cmd.Flags().StringVar(&provider, "provider", "", "transcription provider: google or deepgram")
	cmd.Flags().BoolVar(&noAutoOutput, "no-auto-output", false, "disable automatic text output")
	cmd.Flags().StringVar(&configPath, "config", "", "config file path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(devicesCmd(), pickCmd(), doctorCmd(), statusCmd(), stopCmd(), versionCmd())
	return cmd
}

// swappableInjector lets config reloads replace the injection backend chain
// without rebuilding the sink.
type swappableInjector struct {
	inner atomic.Value // injection.Injector
}

func (s *swappableInjector) set(i injection.Injector) { s.inner.Store(&i) }

func (s *swappableInjector) Inject(ctx context.Context, text string) error {
	return (*s.inner.Load().(*injection.Injector)).Inject(ctx, text)
}

func runDictation(ctx context.Context, deviceIndex int, language, provider string, noAutoOutput bool, configPath string) error {
	if configPath == "" {
		var err error
		configPath, err = config.GetConfigPath()
		if err != nil {
			return err
		}
	}

	manager, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := manager.GetConfig()

	// flags override the config file
	if language != "" {
		cfg.Transcription.Language = language
	}
	if provider != "" {
		cfg.Transcription.Provider = provider
	}
	if noAutoOutput {
		cfg.Injection.AutoOutput = false
	}

	tcfg := cfg.ToTranscriptionConfig()
	if err := checkCredentials(tcfg); err != nil {
		return err
	}

	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	deviceName := fmt.Sprintf("device %d", deviceIndex)
	for _, d := range devices {
		if d.Index == deviceIndex {
			deviceName = d.Name
		}
	}

	source, err := audio.Open(deviceIndex, cfg.ToAudioConfig())
	if err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return fmt.Errorf("%w\nrun 'speechtext devices' to list available devices", err)
		}
		return err
	}

	usage := transcription.NewUsageTracker(cfg.Audio.SampleRate)
	disp := display.New(cfg.Display.Enabled, fmt.Sprintf("speechtext — %s (%s)", deviceName, cfg.Transcription.Language))

	inj := &swappableInjector{}
	inj.set(injection.NewInjector(cfg.ToInjectionConfig()))
	sink := output.NewSink(inj, disp, cfg.Injection.AutoOutput)

	notifier := notify.New(cfg.Notifications.Enabled, cfg.Notifications.Type)

	manager.OnChange(func(c *config.Config) {
		inj.set(injection.NewInjector(c.ToInjectionConfig()))
		sink.SetAutoOutput(c.Injection.AutoOutput)
	})

	coord := pipeline.New(
		pipeline.Config{
			Language:    cfg.Transcription.Language,
			MaxRetries:  cfg.Reconnect.MaxRetries,
			RetryDelays: cfg.RetryDelays(),
			QueueSize:   cfg.Audio.QueueSize,
		},
		source,
		func() (transcription.StreamingAdapter, error) { return transcription.NewAdapter(tcfg) },
		sink,
		usage,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := manager.StartWatching(runCtx); err != nil {
		log.Warn("config: live reload disabled", "err", err)
	}
	defer manager.Stop()

	server, err := bus.NewServer(bus.Handler{
		Status: func() string {
			u := usage.Snapshot()
			return fmt.Sprintf("state=%s degraded=%t finals=%d cost=$%.4f",
				coord.State(), sink.Degraded(), u.FinalCount, u.EstimatedCostUSD)
		},
		Stop: coord.Stop,
	})
	if err != nil {
		_ = source.Stop()
		return err
	}
	go server.Serve(runCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		log.Info("received signal, stopping", "signal", sig)
		coord.Stop()
	}()

	log.Info("starting dictation", "device", deviceName, "language", cfg.Transcription.Language,
		"provider", cfg.Transcription.Provider)
	if err := coord.Start(runCtx); err != nil {
		return err
	}
	notifier.SessionChanged(true)

	go watchSession(runCtx, coord, sink, usage, disp, notifier)

	err = coord.Wait()
	cancel()
	notifier.SessionChanged(false)

	fmt.Print(display.Summary(usage.Snapshot()))
	if err != nil {
		notifier.Error(err.Error())
		return err
	}
	return nil
}

// watchSession feeds the display with usage snapshots and state changes,
// and raises a one-time notification when output degrades.
func watchSession(ctx context.Context, coord *pipeline.Coordinator, sink *output.Sink, usage *transcription.UsageTracker, disp *display.Display, notifier notify.Notifier) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var degradedNotified bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			disp.SetUsage(usage.Snapshot())
			disp.SetStatus(string(coord.State()))

			if sink.Degraded() && !degradedNotified {
				notifier.Degraded("text injection unavailable, output suppressed")
				degradedNotified = true
			} else if !sink.Degraded() && degradedNotified {
				notifier.Degraded("text injection restored")
				degradedNotified = false
			}
		}
	}
}

func checkCredentials(cfg transcription.Config) error {
	switch cfg.Provider {
	case "google":
		if cfg.CredentialsFile == "" {
			return fmt.Errorf("Google Cloud credentials not found: set GOOGLE_APPLICATION_CREDENTIALS " +
				"to your service account key file\nsee https://cloud.google.com/speech-to-text/docs/before-you-begin")
		}
	case "deepgram":
		if cfg.APIKey == "" {
			return fmt.Errorf("Deepgram API key not found: set transcription.api_key or DEEPGRAM_API_KEY")
		}
	}
	return nil
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := audio.ListDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("no input devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("%s %s %s\n",
					styleDeviceIndex.Render(fmt.Sprintf("%d:", d.Index)),
					d.Name,
					styleDeviceInfo.Render(fmt.Sprintf("(inputs: %d, %.0f Hz)", d.MaxInputChannels, d.DefaultSampleRate)))
			}
			return nil
		},
	}
}

func pickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pick",
		Short: "Interactively pick an input device and print its index",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := audio.ListDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				return fmt.Errorf("no input devices found")
			}

			options := make([]huh.Option[int], 0, len(devices))
			for _, d := range devices {
				label := fmt.Sprintf("%s (inputs: %d)", d.Name, d.MaxInputChannels)
				options = append(options, huh.NewOption(label, d.Index))
			}

			var selected int
			form := huh.NewForm(huh.NewGroup(
				huh.NewSelect[int]().
					Title("Select input device").
					Options(options...).
					Value(&selected),
			))
			if err := form.Run(); err != nil {
				return err
			}

			fmt.Println(selected)
			return nil
		},
	}
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			okMark := lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E")).Render("ok")
			missing := lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Render("missing")

			checks := deps.CheckAll()
			for _, c := range checks {
				mark := missing
				detail := c.Purpose
				if c.Status.Installed {
					mark = okMark
					detail = c.Status.Path
				}
				fmt.Printf("%-12s %-8s %s\n", c.Name, mark, styleDeviceInfo.Render(detail))
			}
			if !deps.CanInject(checks) {
				fmt.Println("no typing backend found: sessions will run with output suppressed")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tcfg := cfg.ToTranscriptionConfig()
			where, ok := deps.Credential(tcfg.Provider, tcfg.CredentialsFile, tcfg.APIKey)
			mark := missing
			if ok {
				mark = okMark
			}
			fmt.Printf("%-12s %-8s %s\n", tcfg.Provider+" creds", mark, styleDeviceInfo.Render(where))
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running speechtext instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := bus.SendCommand('s')
			if err != nil {
				return fmt.Errorf("failed to get status (is speechtext running?): %w", err)
			}
			fmt.Print(resp)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running speechtext instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := bus.SendCommand('q')
			if err != nil {
				return fmt.Errorf("failed to stop (is speechtext running?): %w", err)
			}
			fmt.Print(resp)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the control protocol version of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := bus.SendCommand('v')
			if err != nil {
				return fmt.Errorf("failed to get version (is speechtext running?): %w", err)
			}
			fmt.Print(resp)
			return nil
		},
	}
}
