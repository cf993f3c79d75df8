package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rtm0/cmip6/internal/config"
	"github.com/rtm0/cmip6/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries what every command needs once the configuration is read.
type app struct {
	v      *viper.Viper
	out    io.Writer
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func newRootCmd(out io.Writer) (*cobra.Command, *app) {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "cmip6",
		Short: "Decadal anomaly figures from CMIP6 model output.",
		Long: `cmip6 fetches CMIP6 granules from ESGF, averages them over decade
windows and draws global-mean series, decade-mean maps and anomaly maps
against a baseline decade.

Every option can be set as a flag, as a CMIP6_* environment variable (also
read from a .env file) or in the file given by --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	root.SetOut(out)
	a.v = config.NewViper(root.PersistentFlags())
	root.AddCommand(
		a.fetchCmd(),
		a.seriesCmd(),
		a.mapsCmd(),
		a.anomalyCmd(),
		a.trendCmd(),
		a.illustrateCmd(),
		versionCmd(out),
	)
	return root, a
}

func (a *app) setup() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "loading .env")
	}
	if err := config.ReadFile(a.v); err != nil {
		return err
	}
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return errors.Wrap(err, "configuration")
	}
	logger, closer, err := logging.New(a.out, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.closer = cfg, logger, closer
	a.logger.Debug("configuration", "dataRoot", cfg.DataRoot, "figuresRoot", cfg.FiguresRoot,
		"baseline", cfg.BaselineWindow.String(), "decades", len(cfg.DecadeWindows))
	return nil
}

func versionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		// No configuration needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(out, "cmip6 %s\n", version)
		},
	}
}

func main() {
	root, a := newRootCmd(os.Stdout)
	if err := root.Execute(); err != nil {
		logger := a.logger
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
		}
		logger.Error("command failed", "err", err)
		logger.Debug("stack", "trace", fmt.Sprintf("%+v", err))
		os.Exit(1)
	}
}
