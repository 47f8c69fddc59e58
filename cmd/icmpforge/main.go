// Package main provides the CLI entry point for the icmpforge ICMP test
// responder.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/net/ipv4"
	"golang.org/x/term"

	"github.com/postalsys/icmpforge/internal/config"
	"github.com/postalsys/icmpforge/internal/health"
	"github.com/postalsys/icmpforge/internal/logging"
	"github.com/postalsys/icmpforge/internal/metrics"
	"github.com/postalsys/icmpforge/internal/probe"
	"github.com/postalsys/icmpforge/internal/rawsock"
	"github.com/postalsys/icmpforge/internal/recovery"
	"github.com/postalsys/icmpforge/internal/registry"
	"github.com/postalsys/icmpforge/internal/responder"
	"github.com/postalsys/icmpforge/internal/sysinfo"
	"github.com/postalsys/icmpforge/internal/wizard"
)

var errNeedRoot = errors.New("raw sockets require root privileges (or CAP_NET_RAW); try: sudo icmpforge run")

func main() {
	rootCmd := &cobra.Command{
		Use:   "icmpforge",
		Short: "icmpforge - ICMP test responder",
		Long: `icmpforge answers ICMP Echo Requests with a rotating catalog of
fabricated responses: Echo Reply, Destination Unreachable, Source Quench,
Redirect, Time Exceeded and Parameter Problem.

Each request receives the next entry in the catalog, so a client sending
a series of pings sees every response type in turn. Useful for exercising
how ping clients and network libraries handle ICMP errors.`,
		Version:       sysinfo.FullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runOptions holds the command-line overrides for `run`.
type runOptions struct {
	configPath string
	bind       string
	logLevel   string
	logFormat  string
	health     string
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [bind-address]",
		Short: "Run the ICMP responder",
		Long: `Start answering ICMP Echo Requests on the given IPv4 address
(default 127.0.0.1). Requires root or CAP_NET_RAW.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.bind = args[0]
			}

			cfg, err := resolveConfig(opts)
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&opts.bind, "bind", "b", "", "IPv4 address to answer on (default 127.0.0.1)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "", "Log format: text, json")
	cmd.Flags().StringVar(&opts.health, "health", "", "Enable the health server on this host:port")

	return cmd
}

// resolveConfig loads the optional config file and applies flag overrides.
func resolveConfig(opts runOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if opts.bind != "" {
		cfg.Responder.BindAddress = opts.bind
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.health != "" {
		cfg.Health.Enabled = true
		cfg.Health.Address = opts.health
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}

	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

	bind, err := config.ParseBindAddress(cfg.Responder.BindAddress)
	if err != nil {
		return err
	}

	r, err := responder.Open(responder.Config{
		BindAddress:    bind,
		ReceiveTimeout: cfg.Responder.ReceiveTimeout,
		ReceiveBuffer:  cfg.Responder.ReceiveBuffer,
		ReadBuffer:     cfg.Responder.ReadBuffer,
		ErrorRate:      cfg.Log.ErrorRate,
	}, logger, metrics.Default())
	if err != nil {
		if errors.Is(err, rawsock.ErrPermission) {
			return errNeedRoot
		}
		return fmt.Errorf("failed to open raw sockets: %w", err)
	}

	checkHost(logger, bind)
	printBanner(out, bind.String())

	if cfg.Health.Enabled {
		hs := health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
			Logger:       logger,
		}, healthStats{r})
		if err := hs.Start(); err != nil {
			logger.Warn("health server failed to start",
				logging.KeyAddress, cfg.Health.Address,
				logging.KeyError, err)
		} else {
			logger.Info("health server listening", logging.KeyAddress, hs.Address().String())
			defer hs.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = recovery.Guard(logger, "responder", func() error {
		return r.Run(ctx)
	})

	fmt.Fprintln(out, "\nShutting down...")
	printSummary(out, r.Stats(), time.Now())

	return err
}

// checkHost warns about host settings that distort what clients see.
func checkHost(logger *slog.Logger, bind netip.Addr) {
	if !sysinfo.IsLocal(bind) {
		logger.Warn("bind address is not assigned to a local interface",
			logging.KeyBindAddr, bind.String())
	}

	enabled, err := sysinfo.KernelEchoEnabled()
	if err != nil {
		logger.Debug("cannot read kernel echo setting", logging.KeyError, err)
		return
	}
	if enabled {
		logger.Warn("kernel also answers echo requests; set net.ipv4.icmp_echo_ignore_all=1 to see only fabricated responses")
	}
}

func printBanner(out io.Writer, bind string) {
	fmt.Fprintf(out, "ICMP test responder starting on %s\n", bind)
	fmt.Fprintf(out, "Will cycle through %d different response types:\n", registry.Len)
	writeCatalog(out, false)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Listening for ICMP Echo Requests...")
}

func printSummary(out io.Writer, s responder.Stats, now time.Time) {
	errs := s.ParseErrors + s.SendErrors + s.Panics
	fmt.Fprintf(out, "Answered %s of %s echo requests (%s discarded, %s errors)",
		humanize.Comma(int64(s.Replies)),
		humanize.Comma(int64(s.Requests)),
		humanize.Comma(int64(s.Discarded)),
		humanize.Comma(int64(errs)))
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(out, " in %s", humanize.RelTime(s.StartedAt, now, "", ""))
	}
	fmt.Fprintln(out)
}

var (
	indexStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	typeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

// writeCatalog prints the numbered catalog, one "N. Type T, Code C: Label"
// line per entry.
func writeCatalog(out io.Writer, styled bool) {
	for i, spec := range registry.Catalog() {
		if !styled {
			fmt.Fprintf(out, "  %d. %s\n", i+1, spec)
			continue
		}
		fmt.Fprintf(out, "  %s %s %s\n",
			indexStyle.Render(fmt.Sprintf("%2d.", i+1)),
			typeStyle.Render(fmt.Sprintf("Type %d, Code %d:", int(spec.Type), spec.Code)),
			labelStyle.Render(spec.Label))
	}
}

func probeCmd() *cobra.Command {
	opts := probe.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "probe [target]",
		Short: "Ping a responder and report what comes back",
		Long: `Send a run of ICMP Echo Requests (default 127.0.0.1, one per catalog
entry) and print every answer, Echo Reply or ICMP error. Requires root or
CAP_NET_RAW.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				target, err := config.ParseBindAddress(args[0])
				if err != nil {
					return err
				}
				opts.Target = target
			}
			if opts.Count <= 0 {
				return fmt.Errorf("count must be positive")
			}

			conn, err := probe.Listen()
			if err != nil {
				if errors.Is(err, rawsock.ErrPermission) {
					return errNeedRoot
				}
				return err
			}
			defer conn.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "PROBE %s: %d echo requests, id %d\n", opts.Target, opts.Count, opts.ID)

			sum, err := probe.Run(ctx, conn, opts, func(r probe.Reply) {
				fmt.Fprintln(out, r)
			})
			printProbeSummary(out, opts.Target.String(), sum)

			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", opts.Count, "Number of echo requests")
	cmd.Flags().DurationVarP(&opts.Interval, "interval", "i", opts.Interval, "Pause between requests")
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "W", opts.Timeout, "Wait for each answer")

	return cmd
}

func printProbeSummary(out io.Writer, target string, sum probe.Summary) {
	fmt.Fprintf(out, "\n--- %s probe statistics ---\n", target)
	fmt.Fprintf(out, "%s requests sent, %s answered, %s lost\n",
		humanize.Comma(int64(sum.Sent)),
		humanize.Comma(int64(sum.Answered)),
		humanize.Comma(int64(sum.Lost)))

	types := make([]int, 0, len(sum.ByType))
	for typ := range sum.ByType {
		types = append(types, int(typ))
	}
	sort.Ints(types)
	for _, typ := range types {
		fmt.Fprintf(out, "  type %2d: %d\n", typ, sum.ByType[ipv4.ICMPType(typ)])
	}
}

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the response catalog",
		Long:  "Print the response types in the order they are sent. Does not open any sockets.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			writeCatalog(cmd.OutOrStdout(), term.IsTerminal(int(os.Stdout.Fd())))
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "icmpforge %s\n", sysinfo.FullVersion())
		},
	}
}

// healthStats exposes the responder to the health server.
type healthStats struct {
	r *responder.Responder
}

func (h healthStats) IsRunning() bool {
	return h.r.IsRunning()
}

func (h healthStats) Stats() health.Stats {
	s := h.r.Stats()
	return health.Stats{
		StartedAt:   s.StartedAt,
		Cursor:      s.Cursor,
		Next:        s.Next,
		Requests:    s.Requests,
		Replies:     s.Replies,
		Discarded:   s.Discarded,
		ParseErrors: s.ParseErrors,
		SendErrors:  s.SendErrors,
		Panics:      s.Panics,
	}
}
