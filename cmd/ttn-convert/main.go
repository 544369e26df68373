package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/temoto/ttn-convert/cmd/ttn-convert/decode"
	"github.com/temoto/ttn-convert/cmd/ttn-convert/run"
	"github.com/temoto/ttn-convert/cmd/ttn-convert/subcmd"
	"github.com/temoto/ttn-convert/internal/mqttc"
	"github.com/temoto/ttn-convert/internal/state"
	"github.com/temoto/ttn-convert/log2"
)

var modules = []subcmd.Mod{
	run.Mod,
	decode.Mod,
}

func main() {
	flags := pflag.NewFlagSet("ttn-convert", pflag.ExitOnError)
	flagConfig := flags.StringP("config", "c", "ttn-convert.hcl", "HCL config file")
	flagDebug := flags.Bool("log-debug", false, "verbose logging, overrides config log_debug")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ttn-convert [flags] [command] [args]\n\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(os.Stderr, "  %-8s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(os.Stderr, "\nFlags:\n%s", flags.FlagUsages())
	}
	_ = flags.Parse(os.Args[1:])

	log := log2.NewService(log2.LInfo)
	if *flagDebug {
		log.SetLevel(log2.LDebug)
	}
	mqttc.InstallLogger(log)

	cmdName := run.Mod.Name
	args := flags.Args()
	if len(args) != 0 {
		cmdName, args = args[0], args[1:]
	}
	mod, err := subcmd.Parse(cmdName, modules)
	if err != nil {
		flags.Usage()
		log.Fatal(err)
	}

	env := &subcmd.Env{Log: log, Args: args}
	if mod.NeedConfig {
		env.Config = state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
		if env.Config.LogDebug {
			log.SetLevel(log2.LDebug)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Infof("signal=%v", s)
		cancel()
	}()

	if err := mod.Main(ctx, env); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	cancel()
}
