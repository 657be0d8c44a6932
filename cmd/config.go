package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/khanhnv2901/poc-cli/internal/domain/run"
)

// CLIConfig captures runtime configuration shared across commands.
type CLIConfig struct {
	Defaults DefaultValues
}

// DefaultValues are operator-level defaults read from the config file.
type DefaultValues struct {
	TimeoutSecs  int
	Threads      int
	Rate         int
	CancelPolicy string
	UserAgent    string
	Proxy        string
	Headers      string
	PocPath      string
}

type defaultOverrides struct {
	TimeoutSecs  *int
	Threads      *int
	Rate         *int
	CancelPolicy string
	UserAgent    string
	Proxy        string
	Headers      string
	PocPath      string
}

var cliConfig = newCLIConfig()

func newCLIConfig() *CLIConfig {
	opts := run.DefaultOptions()
	return &CLIConfig{
		Defaults: DefaultValues{
			TimeoutSecs:  opts.Timeout,
			Threads:      opts.Threads,
			CancelPolicy: string(run.CancelWait),
		},
	}
}

func loadDefaultOverrides() defaultOverrides {
	overrides := defaultOverrides{}

	if viper.IsSet("defaults.timeout") {
		val := viper.GetInt("defaults.timeout")
		overrides.TimeoutSecs = &val
	}
	if viper.IsSet("defaults.threads") {
		val := viper.GetInt("defaults.threads")
		overrides.Threads = &val
	}
	if viper.IsSet("defaults.rate") {
		val := viper.GetInt("defaults.rate")
		overrides.Rate = &val
	}
	overrides.CancelPolicy = viper.GetString("defaults.cancel_policy")
	overrides.UserAgent = viper.GetString("defaults.user_agent")
	overrides.Proxy = viper.GetString("defaults.proxy")
	overrides.Headers = viper.GetString("defaults.headers")
	overrides.PocPath = viper.GetString("defaults.poc")

	return overrides
}

// applyConfigDefaults merges config file defaults into the run flags when the
// user did not explicitly set the corresponding flag.
func applyConfigDefaults(cmd *cobra.Command) {
	overrides := loadDefaultOverrides()
	flags := runCmd.Flags()

	if overrides.TimeoutSecs != nil {
		applyIntDefault(flags, "timeout", *overrides.TimeoutSecs, func(v int) {
			cliConfig.Defaults.TimeoutSecs = v
			setStringFlagIfUnset(flags, "timeout", strconv.Itoa(v))
		})
	}
	if overrides.Threads != nil {
		applyIntDefault(flags, "threads", *overrides.Threads, func(v int) {
			cliConfig.Defaults.Threads = v
			setStringFlagIfUnset(flags, "threads", strconv.Itoa(v))
		})
	}
	if overrides.Rate != nil {
		applyIntDefault(flags, "rate", *overrides.Rate, func(v int) {
			cliConfig.Defaults.Rate = v
			setStringFlagIfUnset(flags, "rate", strconv.Itoa(v))
		})
	}

	applyStringDefault(flags, "cancel-policy", overrides.CancelPolicy, &cliConfig.Defaults.CancelPolicy)
	applyStringDefault(flags, "user-agent", overrides.UserAgent, &cliConfig.Defaults.UserAgent)
	applyStringDefault(flags, "proxy", overrides.Proxy, &cliConfig.Defaults.Proxy)
	applyStringDefault(flags, "headers", overrides.Headers, &cliConfig.Defaults.Headers)
	applyStringDefault(flags, "poc", overrides.PocPath, &cliConfig.Defaults.PocPath)
}

func applyIntDefault(flags *pflag.FlagSet, name string, value int, setter func(int)) {
	if flags == nil || setter == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	setter(value)
}

func applyStringDefault(flags *pflag.FlagSet, name, value string, target *string) {
	if value == "" {
		return
	}
	flag := flags.Lookup(name)
	if flag != nil && flag.Changed {
		return
	}
	*target = value
	setStringFlagIfUnset(flags, name, value)
}

func setStringFlagIfUnset(flags *pflag.FlagSet, name, value string) {
	if flags == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag == nil || flag.Changed {
		return
	}
	_ = flag.Value.Set(value)
}
