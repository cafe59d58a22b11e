package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/bringyour/registry/registry"
)

const RegistryCtlVersion = "0.0.1"

const DefaultApiUrl = "https://api.bringyour.com"
const DefaultRelayUrl = "wss://relay.bringyour.com"

const unwatchTimeout = 2 * time.Second

func main() {
	usage := fmt.Sprintf(
		`Registry control.

The default urls are:
    api_url: %s
    relay_url: %s

Usage:
    registryctl ls [--config=<config>] [--api_url=<api_url>] [--jwt=<jwt>] [--v=<v>]
        [<path>]
    registryctl watch [--config=<config>] [--api_url=<api_url>] [--relay_url=<relay_url>] [--jwt=<jwt>] [--v=<v>]
        [<path>]
    registryctl unwatch [--config=<config>] [--api_url=<api_url>] [--jwt=<jwt>] [--v=<v>]
        <session_id> <watch_id>
    registryctl session [--config=<config>] [--jwt=<jwt>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<config>          YAML settings file.
    --api_url=<api_url>
    --relay_url=<relay_url>
    --jwt=<jwt>                Your registry JWT. Prompted for when missing.
    --v=<v>                    Log verbosity [default: 0].`,
		DefaultApiUrl,
		DefaultRelayUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RegistryCtlVersion)
	if err != nil {
		panic(err)
	}

	initGlog(opts)
	defer glog.Flush()

	settings, err := LoadSettings(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	if ls_, _ := opts.Bool("ls"); ls_ {
		ls(settings, opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(settings, opts)
	} else if unwatch_, _ := opts.Bool("unwatch"); unwatch_ {
		unwatch(settings, opts)
	} else if session_, _ := opts.Bool("session"); session_ {
		session(settings)
	}
}

func initGlog(opts docopt.Opts) {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	if v, _ := opts.String("--v"); v != "" {
		flag.Set("v", v)
	}
}

func optPath(opts docopt.Opts) registry.Path {
	if pathStr, err := opts.String("<path>"); err == nil {
		return registry.ParsePath(pathStr)
	}
	return registry.RootRegistryPath()
}

func ls(settings *Settings, opts docopt.Opts) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	api := registry.NewRegistryApiWithContext(ctx, settings.ApiUrl)
	api.SetByJwt(settings.RequireJwt())

	path := optPath(opts)
	view := NewTerminalView(os.Stdout)
	listing, err := api.DirSync(path)
	if err != nil {
		view.ShowError(path, err)
		os.Exit(1)
	}
	view.ShowListing(path, listing)
}

func unwatch(settings *Settings, opts docopt.Opts) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	sessionIdStr, _ := opts.String("<session_id>")
	sessionId, err := registry.ParseId(sessionIdStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad session_id: %s\n", err)
		os.Exit(1)
	}
	watchIdStr, _ := opts.String("<watch_id>")
	watchId, err := registry.ParseId(watchIdStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad watch_id: %s\n", err)
		os.Exit(1)
	}

	api := registry.NewRegistryApiWithContext(ctx, settings.ApiUrl)
	api.SetByJwt(settings.RequireJwt())

	if _, err := api.UnwatchRegistryPathSync(&registry.Unwatch{
		Id:      sessionId,
		WatchId: watchId,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Unwatch error: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("unwatched %s\n", watchId)
}

func session(settings *Settings) {
	byJwt, err := registry.ParseByJwtUnverified(settings.RequireJwt())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad jwt: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("client_id: %s\n", byJwt.ClientId)
	fmt.Printf("user_id: %s\n", byJwt.UserId)
	fmt.Printf("network_name: %s\n", byJwt.NetworkName)
}

// watch shows a directory and keeps it current until interrupted.
// Lines on stdin navigate: `cd <name>`, `cd ..`, `q`.
func watch(settings *Settings, opts docopt.Opts) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	byJwt := settings.RequireJwt()

	// not bound to `ctx`, so the final unwatch can complete after an interrupt
	api := registry.NewRegistryApi(settings.ApiUrl)
	api.SetByJwt(byJwt)

	eventBus := registry.NewEventBus()
	relaySettings := registry.DefaultRemoteEventBusSettings()
	if 0 < settings.ReconnectTimeout {
		relaySettings.ReconnectTimeout = settings.ReconnectTimeout
	}
	remoteEventBus := registry.NewRemoteEventBus(ctx, eventBus, settings.RelayUrl, byJwt, relaySettings)
	defer remoteEventBus.Close()

	placeController := registry.NewPlaceController(registry.NewRegistryPlace(optPath(opts)))
	redirector := registry.NewPlaceRedirector(placeController)

	view := NewTerminalView(os.Stdout)
	activityManager := registry.NewActivityManager(
		placeController,
		func(place *registry.RegistryPlace) *registry.RegistryActivity {
			return registry.NewRegistryActivity(
				place,
				eventBus,
				remoteEventBus,
				api,
				redirector,
				placeController,
			)
		},
		view,
	)

	remoteEventBus.Start()
	activityManager.Start()

	go func() {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			activity := activityManager.Current()
			if activity == nil {
				continue
			}
			path := activity.Place().Path()
			switch command := strings.Fields(scanner.Text()); {
			case len(command) == 0:
			case command[0] == "q":
				return
			case command[0] == "cd" && len(command) == 2 && command[1] == "..":
				activity.GoTo(registry.NewRegistryPlace(path.Parent()))
			case command[0] == "cd" && len(command) == 2:
				activity.GoTo(registry.NewRegistryPlace(path.Child(command[1])))
			default:
				fmt.Fprintf(os.Stderr, "unknown command: %s\n", scanner.Text())
			}
		}
	}()

	<-ctx.Done()

	// the relay disconnect issues calls, so the relay must be done before waiting on the api
	remoteEventBus.Close()
	<-remoteEventBus.Done()
	activityManager.Close()
	if !api.Wait(unwatchTimeout) {
		glog.Infof("unwatch did not complete within %s\n", unwatchTimeout)
	}
	api.Close()
}
