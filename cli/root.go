package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hypernetix/lms/pkg/config"
	"github.com/hypernetix/lms/pkg/lmstudio"
)

// app carries the state shared by every subcommand.
type app struct {
	host       string
	port       int
	configPath string
	verbose    bool
	trace      bool

	cfg        *config.Config
	configFile string
	logger     lmstudio.Logger
	client     *lmstudio.LMStudioClient

	out        io.Writer
	errOut     io.Writer
	isTerminal func() bool
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, isTerminal: stdioIsTerminal}
}

// stdioIsTerminal reports whether both stdin and stdout are terminals.
func stdioIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lms",
		Short: "Manage and chat with models in LM Studio",
		Long: "lms drives a running LM Studio instance: list, load and download models, " +
			"control the local server and chat from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.host, "host", "", fmt.Sprintf("LM Studio API host (default: discover, trying %s first)", lmstudio.LMStudioAPIHosts[0]))
	flags.IntVar(&a.port, "port", 0, fmt.Sprintf("LM Studio API port (default: %d)", lmstudio.LMStudioAPIPorts[0]))
	flags.StringVar(&a.configPath, "config", "", "config file (default: $LMS_CONFIG or ~/.lmstudio/lms.toml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&a.trace, "vv", false, "enable trace logging")

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		newStatusCmd(a),
		newListCmd(a),
		newPsCmd(a),
		newLoadCmd(a),
		newUnloadCmd(a),
		newGetCmd(a),
		newServerCmd(a),
		newChatCmd(a),
		newVersionCmd(a),
	)
	return rootCmd
}

// init loads the configuration and sets up logging. The client is created
// lazily so that commands like version work without a server.
func (a *app) init() error {
	path := a.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg.ApplyEnvOverrides()
	if a.host != "" {
		cfg.Host = a.host
	}
	if a.port != 0 {
		cfg.Port = a.port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.configFile = path
	a.logger = lmstudio.NewLoggerTo(a.errOut, a.logLevel())
	return nil
}

// logLevel is the configured level raised by -v or --vv.
func (a *app) logLevel() lmstudio.LogLevel {
	level, _ := lmstudio.ParseLogLevel(a.cfg.LogLevel)
	if a.verbose {
		level = max(level, lmstudio.LogLevelDebug)
	}
	if a.trace {
		level = lmstudio.LogLevelTrace
	}
	return level
}

// serverAddress returns the configured API address, discovering the
// server when host or port is not set.
func (a *app) serverAddress() (string, error) {
	if a.cfg.Host != "" && a.cfg.Port != 0 {
		return fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port), nil
	}
	a.logger.Debug("Host and port not explicitly set, attempting to discover LM Studio server...")
	addr, err := lmstudio.DiscoverLMStudioServer(a.cfg.Host, a.cfg.Port, a.logger)
	if err != nil {
		return "", fmt.Errorf("could not discover LM Studio server, try to set --host and --port explicitly: %w", err)
	}
	a.logger.Debug("Discovered LM Studio server at %s", addr)
	return addr, nil
}

func (a *app) connect() (*lmstudio.LMStudioClient, error) {
	if a.client != nil {
		return a.client, nil
	}
	addr, err := a.serverAddress()
	if err != nil {
		return nil, err
	}
	a.client = lmstudio.NewLMStudioClient(addr, a.logger)
	return a.client, nil
}

func (a *app) close() {
	if a.client == nil {
		return
	}
	if err := a.client.Close(); err != nil {
		a.logger.Debug("Failed to close client: %v", err)
	}
	a.client = nil
}

// execute runs the command line args against a and releases its client.
func execute(ctx context.Context, a *app, args []string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	defer a.close()
	return root.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := execute(ctx, newApp(os.Stdout, os.Stderr), os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
