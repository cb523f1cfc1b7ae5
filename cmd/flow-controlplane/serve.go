package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"

	"github.com/estuary/flow/go/catalog"
	"github.com/estuary/flow/go/connector"
	"github.com/estuary/flow/go/queue"
	"github.com/estuary/flow/go/store"
)

// cmdServe runs one Worker in a loop, polling the task queue of
// spec.md §4.7 until signaled to exit, mirroring the teacher's
// `serve consumer`/`serve ingester` subcommands (go/flowctl-go/main.go)
// generalized from a single long-lived shard host to a control-plane
// polling loop.
type cmdServe struct {
	Store struct {
		DSN string `long:"dsn" env:"DSN" default:":memory:" description:"Data source name of the backing store database"`
	} `group:"Store" namespace:"store" env-namespace:"STORE"`

	Connector struct {
		ProxyAddr   string `long:"proxy-addr" env:"PROXY_ADDR" default:"localhost:7921" description:"Address of the connector proxy; may contain %s for per-image routing"`
		MaxPerImage int    `long:"max-per-image" env:"MAX_PER_IMAGE" default:"4" description:"Maximum live connector clients held per image"`
	} `group:"Connector" namespace:"connector" env-namespace:"CONNECTOR"`

	IdleBackoff time.Duration `long:"idle-backoff" env:"IDLE_BACKOFF" default:"1s" description:"How long to sleep after a poll finds no work"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdServe) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("flow-controlplane configuration")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return cmd.execute(ctx)
}

func (cmd cmdServe) execute(ctx context.Context) error {
	s, err := store.Open(cmd.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store %q: %w", cmd.Store.DSN, err)
	}
	defer s.Close()

	var dialer = newGRPCDialer(cmd.Connector.ProxyAddr)
	var client = connector.NewProxy(dialer, cmd.Connector.MaxPerImage)
	var worker = queue.NewWorker(s, catalog.NewGenerator(), client)

	prometheus.MustRegister(connector.Metrics())

	log.Info("worker starting")
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping on signal")
			return nil
		default:
		}

		did, err := worker.RunOnce(ctx)
		if err != nil {
			log.WithField("error", err).Error("worker poll failed")
		}
		if !did {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cmd.IdleBackoff):
			}
		}
	}
}
