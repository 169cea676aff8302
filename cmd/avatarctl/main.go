package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/avatarsvc/internal/avatar"
	"github.com/danmuck/avatarsvc/internal/logging"
	"github.com/danmuck/avatarsvc/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "avatarctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := newFlags()
	if err := flags.set.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flags.set)
			return nil
		}
		return err
	}
	if help, _ := flags.set.GetBool("help"); help {
		printHelp(flags.set)
		return nil
	}
	if rest := flags.set.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	logging.ConfigureRuntime()
	observability.InitLogger("avatarctl")
	gin.SetMode(gin.ReleaseMode)

	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", flags.envFile, err)
		}
	}

	cfg, err := resolveConfig(flags, os.LookupEnv)
	if err != nil {
		return err
	}
	log.Info().
		Str("config", flags.configPath).
		Str("addr", cfg.Addr()).
		Str("account", cfg.XMPP.Account).
		Str("avatar_prefix", cfg.AvatarPrefix).
		Msg("avatarctl starting")

	svc, err := avatar.NewService(cfg)
	if err != nil {
		return err
	}
	return svc.Run()
}

func printHelp(set *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `avatarctl serves XMPP vCard avatars over HTTP.

Usage:
  avatarctl [flags]

Flags:
%s`, set.FlagUsages())
}
