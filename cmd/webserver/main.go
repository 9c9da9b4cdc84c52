// Command webserver runs the pluggable web server host.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/rhymu8354/webserver/chatroom"
	"github.com/rhymu8354/webserver/config"
	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/echo"
	"github.com/rhymu8354/webserver/errors"
	"github.com/rhymu8354/webserver/host"
	"github.com/rhymu8354/webserver/logger"
	"github.com/rhymu8354/webserver/plugin"
	"github.com/rhymu8354/webserver/staticcontent"
	"github.com/rhymu8354/webserver/timekeeper"
	"github.com/rhymu8354/webserver/version"
)

var (
	configPath onceFlag
	jsonLogs   bool
)

// onceFlag is a string flag that may be given at most once.
type onceFlag struct {
	value string
	seen  bool
}

func (f *onceFlag) String() string { return f.value }

func (f *onceFlag) Set(value string) error {
	if f.seen {
		return errors.New("the --config flag may be given at most once")
	}
	f.value = value
	f.seen = true
	return nil
}

func (f *onceFlag) Type() string { return "string" }

var rootCmd = &cobra.Command{
	Use:           "webserver",
	Short:         "Pluggable web server host",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().VarP(&configPath, "config", "c",
		"path to the configuration file")
	rootCmd.Flags().BoolVar(&jsonLogs, "json-logs", false,
		"emit structured JSON logs instead of console output")
}

func run() error {
	if err := logger.Initialize(jsonLogs); err != nil {
		return errors.Wrap(err, "initializing logger")
	}
	defer logger.Cleanup()

	cfg, err := config.Load(configPath.value)
	if err != nil {
		return err
	}

	srv := host.New(host.Options{
		TimeKeeper:      timekeeper.NewMonotonic(),
		Secure:          cfg.Secure,
		CertificateFile: cfg.SSLCertificate,
		KeyFile:         cfg.SSLKey,
		KeyPassphrase:   cfg.SSLKeyPassphrase,
	})
	for key, value := range cfg.Server {
		srv.SetConfigurationItem(key, value)
	}

	reporter := diagnostics.Tee(
		diagnostics.StreamReporter(os.Stdout, os.Stderr),
		diagnostics.ZapReporter(logger.Logger),
	)
	srv.SubscribeToDiagnostics(reporter, diagnostics.LevelInfo)

	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	supervisor, err := newSupervisor(srv, cfg, reporter)
	if err != nil {
		return err
	}
	supervisor.ScanOnce()
	if err := supervisor.StartBackground(); err != nil {
		return err
	}

	fmt.Println("Web server up and running.")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()

	supervisor.StopBackground()
	supervisor.UnloadAll()
	fmt.Println("Exiting...")
	return nil
}

// newSupervisor wires the plug-in supervisor: builtin modules first, then
// shared objects for anything not compiled in.
func newSupervisor(srv *host.Server, cfg *config.Config,
	reporter diagnostics.SinkFunc) (*plugin.Supervisor, error) {
	registry, err := plugin.NewRegistry(version.Version)
	if err != nil {
		return nil, err
	}
	builtins := []plugin.Registration{
		{Module: "ChatRoom", Entry: chatroom.LoadPlugin},
		{Module: "Echo", Entry: echo.LoadPlugin},
		{Module: "StaticContent", Entry: staticcontent.LoadPlugin},
	}
	for _, registration := range builtins {
		if err := registry.Register(registration); err != nil {
			return nil, err
		}
	}
	linker := plugin.ChainLinkers(
		plugin.BuiltinLinker{Registry: registry},
		plugin.SharedObjectLinker{},
	)

	supervisor := plugin.NewSupervisor(srv, linker,
		cfg.PluginsImage, cfg.PluginsRuntime, reporter, diagnostics.LevelInfo)
	for _, name := range cfg.PluginsEnabled {
		entry, ok := cfg.Plugins[name]
		if !ok {
			logger.Warnw("enabled plug-in has no definition", "plugin", name)
			continue
		}
		supervisor.Track(name, entry.Module, entry.Configuration)
	}
	return supervisor, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
