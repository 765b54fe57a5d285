package main

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dmpimu/internal/config"
)

const envPrefix = "DMPIMU"

// app carries state shared by every subcommand of one invocation.
type app struct {
	v   *viper.Viper
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "dmpimu",
		Short:         "MPU-9250 DMP attitude service and calibration tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `dmpimu drives an MPU-9250 through its Digital Motion Processor.

The configuration file is resolved in this order:
1. path given by --config
2. path in the DMPIMU_CONFIG environment variable
3. config.yaml in $HOME/.config/dmpimu, /etc/dmpimu or the current directory
Without a file the built-in defaults are used. DMPIMU_LOG_LEVEL and
DMPIMU_METRICS_LISTEN override the matching file keys.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().String("config", "", "path to YAML config")
	root.PersistentFlags().Bool("debug", false, "toggle debug logging")
	_ = a.v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = a.v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))

	root.AddCommand(newRunCmd(a), newCalibrateCmd(a), newConfigCmd(a))
	return root
}

// load resolves and parses the config file and applies env overrides.
func (a *app) load() error {
	v := a.v
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := v.GetString("config")
	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/dmpimu")
		v.AddConfigPath("/etc/dmpimu")
		v.AddConfigPath(".")
		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			log.Debugf("config no file found, using defaults")
		case err != nil:
			return fmt.Errorf("config: %w", err)
		default:
			path = v.ConfigFileUsed()
		}
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		log.Debugf("config loaded path=%s", path)
	}

	if s := v.GetString("log.level"); s != "" {
		cfg.Log.Level = s
	}
	if s := v.GetString("metrics.listen"); s != "" {
		cfg.Metrics.Listen = s
	}
	if v.GetBool("debug") {
		cfg.Log.Level = "debug"
	}

	lvl, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	log.SetLevel(lvl)
	a.cfg = cfg
	return nil
}
