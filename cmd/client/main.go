package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"

	"github.com/zeusync/statesync/internal/app"
	"github.com/zeusync/statesync/internal/config"
	"github.com/zeusync/statesync/internal/core/gamestate"
	"github.com/zeusync/statesync/internal/core/world"
	"github.com/zeusync/statesync/internal/injector"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to the client YAML config")
		profileMode = flag.String("profile", "", "write a cpu or mem profile to the working directory")
		wanderID    = flag.Uint64("wander", 0, "drive this entity with generated movement input")
		wanderEvery = flag.Uint("wander-every", 60, "ticks between wander direction changes")
	)
	flag.Parse()

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		fmt.Fprintln(os.Stderr, "unknown profile mode:", *profileMode)
		os.Exit(2)
	}

	if err := run(*configPath, gamestate.EntityID(*wanderID), gamestate.Tick(*wanderEvery)); err != nil {
		fmt.Fprintln(os.Stderr, "Error running client:", err)
		os.Exit(1)
	}
}

func run(configPath string, wanderID gamestate.EntityID, wanderEvery gamestate.Tick) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var store *config.Store
	if configPath != "" {
		var err error
		if store, err = config.NewStore(configPath); err != nil {
			return err
		}
	}

	client, cleanup, err := injector.InitializeClient(ctx, store)
	if err != nil {
		return err
	}
	defer cleanup()

	if wanderID != 0 {
		client.SetInputSource(wander(wanderID, wanderEvery))
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				_ = client.Reload()
			}
		}
	}()

	if err = client.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

var wanderDirections = []uint32{world.FuncMoveRight, world.FuncMoveUp, world.FuncMoveLeft, world.FuncMoveDown}

// wander turns target a quarter every ticks.
func wander(target gamestate.EntityID, every gamestate.Tick) app.InputSource {
	if every == 0 {
		every = 1
	}
	return func(tick gamestate.Tick) []gamestate.InputCommand {
		if tick%every != 0 {
			return nil
		}
		n := len(wanderDirections)
		i := int(tick/every) % n
		return []gamestate.InputCommand{
			{Function: wanderDirections[(i+n-1)%n], Pressed: false, Target: target},
			{Function: wanderDirections[i], Pressed: true, Target: target},
		}
	}
}
