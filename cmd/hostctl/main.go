package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hostlink/hostlink/config"
	"github.com/hostlink/hostlink/control"
	"github.com/hostlink/hostlink/host"
)

const usage = `usage: hostctl [flags] start|stop|restart|status

Controls one remotely-managed runtime host through a HostLink manager.
`

// drainRequestTimeout bounds the exit-time stop requests issued while
// draining the shutdown registry.
const drainRequestTimeout = 30 * time.Second

func main() {
	var (
		settingsPath = flag.String("settings", "hostlink.yaml", "path to the settings file")
		stopTimeout  = flag.Int("timeout", 0, "grace period in milliseconds for stop (0 stops now)")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	settings, err := config.Load(*settingsPath)
	if err != nil {
		fail(err)
	}

	secret, err := control.LoadSecret(settings.ControlSecretPath)
	if err != nil {
		fail(err)
	}

	manager := host.NewManagerClient(settings.ManagerURL, host.WithControlSecret(secret))
	managed := host.NewManagedHost(manager, settings)

	if err := execute(context.Background(), managed, host.DefaultRegistry, flag.Arg(0), *stopTimeout, settings.OnExitStopTimeout()); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "hostctl: %v\n", err)
	os.Exit(1)
}

// execute runs one command, then drains the registry so any host started
// during the command still gets its exit-time stop. The drain cannot live
// in a defer in main: error paths leave through os.Exit, which skips
// deferred calls.
func execute(ctx context.Context, managed *host.ManagedHost, registry *host.ShutdownRegistry, command string, stopTimeout, exitStopTimeout int) error {
	runErr := run(ctx, managed, command, stopTimeout)

	// The command's context may already be done; the exit-time stops get
	// their own budget. The manager cancels a scheduled stop if another
	// controller starts the host again before the grace period elapses.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainRequestTimeout)
	defer cancel()
	registry.Drain(drainCtx, exitStopTimeout)

	return runErr
}

func run(ctx context.Context, managed *host.ManagedHost, command string, stopTimeout int) error {
	switch command {
	case "start":
		if err := managed.Start(ctx); err != nil {
			return err
		}
		if err := managed.Connect(ctx); err != nil {
			return err
		}
		liveConfig := managed.Config()
		fmt.Printf("%s running at %s (session %s)\n", managed.Name(), liveConfig.URL(), liveConfig.SessionID)
		return nil
	case "stop":
		return managed.Stop(ctx, stopTimeout)
	case "restart":
		return managed.Restart(ctx)
	case "status":
		if managed.IsRunning() {
			fmt.Printf("%s is running at %s\n", managed.Name(), managed.Config().URL())
		} else {
			fmt.Printf("%s is not running\n", managed.Name())
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
