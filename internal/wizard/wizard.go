// Package wizard provides the interactive `icmpforge init` setup wizard.
package wizard

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/postalsys/icmpforge/internal/config"
	"github.com/postalsys/icmpforge/internal/registry"
)

// ErrNotInteractive is returned by Run when stdin is not a terminal.
var ErrNotInteractive = errors.New("setup wizard needs an interactive terminal")

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// answers collects the form values before they are turned into a Config.
type answers struct {
	configPath    string
	bindAddress   string
	logLevel      string
	logFormat     string
	healthEnabled bool
	healthAddress string
}

func defaultAnswers() answers {
	def := config.Default()
	return answers{
		configPath:    "./icmpforge.yaml",
		bindAddress:   def.Responder.BindAddress,
		logLevel:      def.Log.Level,
		logFormat:     def.Log.Format,
		healthEnabled: def.Health.Enabled,
		healthAddress: def.Health.Address,
	}
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	if !IsInteractive() {
		return nil, ErrNotInteractive
	}

	w.printBanner()

	a := defaultAnswers()

	if err := w.askBasicSetup(&a); err != nil {
		return nil, err
	}
	if err := w.askLogging(&a); err != nil {
		return nil, err
	}
	if err := w.askHealth(&a); err != nil {
		return nil, err
	}

	cfg, err := buildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := writeConfig(cfg, a.configPath); err != nil {
		return nil, err
	}

	w.printSummary(a.configPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: a.configPath,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
  _                 __
 (_)___ _ __  ___  / _|___ _ _ __ _ ___
 | / _| '  \/ _ \ |  _/ _ \ '_/ _' / -_)
 |_\__|_|_|_\_,_| |_| \___/_| \__, \___|
                              |___/
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(fmt.Sprintf("  ICMP Test Responder (%d response types) - Setup Wizard\n", registry.Len))

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Where to write the configuration and which address to answer on."),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./icmpforge.yaml").
				Value(&a.configPath).
				Validate(validateConfigPath),

			huh.NewInput().
				Title("Bind Address").
				Description("Local IPv4 address to receive Echo Requests on").
				Placeholder("127.0.0.1").
				Value(&a.bindAddress).
				Validate(func(s string) error {
					_, err := config.ParseBindAddress(s)
					return err
				}),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askLogging(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Logging").
				Description("Every Echo Request is logged at info level."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (includes ignored ICMP)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.logLevel),

			huh.NewSelect[string]().
				Title("Log Format").
				Options(
					huh.NewOption("Text", "text"),
					huh.NewOption("JSON", "json"),
				).
				Value(&a.logFormat),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askHealth(a *answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable health endpoint?").
				Description("HTTP endpoint for monitoring (/health, /healthz, /catalog, /metrics)").
				Value(&a.healthEnabled),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Health Address").
				Description("host:port for the HTTP server").
				Placeholder("127.0.0.1:9115").
				Value(&a.healthAddress).
				Validate(validateHostPort),
		).WithHideFunc(func() bool { return !a.healthEnabled }),
	).WithTheme(w.theme)

	return form.Run()
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validateHostPort(s string) error {
	if s == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("invalid address format (use host:port)")
	}
	return nil
}

// buildConfig turns the answers into a validated Config.
func buildConfig(a answers) (*config.Config, error) {
	cfg := config.Default()

	addr, err := config.ParseBindAddress(a.bindAddress)
	if err != nil {
		return nil, err
	}
	cfg.Responder.BindAddress = addr.String()
	cfg.Log.Level = a.logLevel
	cfg.Log.Format = a.logFormat

	cfg.Health.Enabled = a.healthEnabled
	if a.healthEnabled {
		cfg.Health.Address = a.healthAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const configHeader = `# icmpforge configuration
# Generated by setup wizard

`

func writeConfig(cfg *config.Config, path string) error {
	return cfg.Save(path, configHeader)
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Bind address: %s\n", cfg.Responder.BindAddress)
	fmt.Printf("  Logging:      %s (%s)\n", cfg.Log.Level, cfg.Log.Format)
	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/healthz\n", cfg.Health.Address)
	}

	fmt.Println()
	fmt.Println("  To start the responder:")
	fmt.Printf("    sudo icmpforge run -c %s\n", configPath)
	fmt.Println()
}
