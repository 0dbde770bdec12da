package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"inboxsync/internal/api"
	"inboxsync/internal/commands"
	"inboxsync/internal/config"
	"inboxsync/internal/http"
	"inboxsync/internal/inbox"
	"inboxsync/internal/logging"
	"inboxsync/internal/metrics"
	"inboxsync/internal/models"
	"inboxsync/internal/notify"
	"inboxsync/internal/query"
	"inboxsync/internal/storage"
	"inboxsync/internal/store"
	"inboxsync/internal/ws"
	"io"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

type options struct {
	list   bool
	follow int64
	send   string
	to     int64
	attach string
	read   int64
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("inboxsync", flag.ContinueOnError)
	fs.BoolVar(&o.list, "list", false, "Print the conversation list and exit")
	fs.Int64Var(&o.follow, "follow", 0, "Open a conversation and print its messages as they arrive")
	fs.StringVar(&o.send, "send", "", "Send a message (requires -to)")
	fs.Int64Var(&o.to, "to", 0, "Conversation to send to")
	fs.StringVar(&o.attach, "attach", "", "File to attach to the sent message")
	fs.Int64Var(&o.read, "read", 0, "Mark a conversation as read and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if (o.send != "" || o.attach != "") && o.to == 0 {
		return o, errors.New("-send and -attach require -to")
	}
	modes := 0
	for _, set := range []bool{o.list, o.follow != 0, o.to != 0, o.read != 0} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return o, errors.New("-list, -follow, -send and -read are mutually exclusive")
	}
	return o, nil
}

func (o options) oneShot() bool {
	return o.list || o.read != 0
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.oneShot())
	if err != nil {
		return err
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel)

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	db, err := storage.NewBboltStorage(cfg.StateDB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	st := store.New()
	if err := restore(st, db); err != nil {
		return err
	}

	client, err := api.NewClient(cfg.APIBaseURL, cfg.APIToken, api.WithLogger(logger))
	if err != nil {
		return err
	}

	toaster := notify.NewToaster(cfg.Language, 16)
	q := query.New(ctx, client, st,
		query.WithStaleTime(cfg.QueryStaleTime),
		query.WithNotifier(toaster),
		query.WithLogger(logger),
	)

	if opts.oneShot() {
		if opts.list {
			err = commands.List(ctx, q, stdout)
		} else {
			err = commands.Read(ctx, q, models.ConversationID(opts.read), stdout)
		}
		if saveErr := db.SaveSnapshot(st.Persisted()); saveErr != nil {
			slog.Error("failed to save state", "error", saveErr)
		}
		return err
	}

	session := inbox.New(inbox.Config{
		WS: ws.Config{
			URL:              cfg.SocketURL,
			Token:            cfg.APIToken,
			UserID:           cfg.UserID,
			InitialInterval:  cfg.ReconnectInitial,
			MaxInterval:      cfg.ReconnectMax,
			MaxAttempts:      cfg.ReconnectAttempts,
			HandshakeTimeout: cfg.HandshakeTimeout,
			SendRate:         cfg.SendRate,
		},
		UserID:     cfg.UserID,
		AckTimeout: cfg.AckTimeout,
	}, q,
		inbox.WithNotifier(toaster),
		inbox.WithLogger(logger),
		inbox.WithSaver(db),
	)
	defer session.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return session.Run(gCtx) })
	g.Go(func() error {
		commands.PrintNotices(gCtx, toaster.Notices(), os.Stderr)
		return nil
	})

	if cfg.MetricsAddr != "" {
		metricsServer := http.NewMetricsServer(reg, session.ConnectionStatus, cfg.MetricsAddr)

		// Start Metrics Server
		g.Go(func() error {
			err := metricsServer.Start()
			if err != nil && err != oshttp.ErrServerClosed {
				return err
			}
			return nil
		})

		// Wait for context cancellation (signal)
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		switch {
		case opts.follow != 0:
			defer cancel()
			return commands.Follow(gCtx, session, models.ConversationID(opts.follow), stdout)
		case opts.to != 0:
			defer cancel()
			return commands.Send(gCtx, session, client, models.ConversationID(opts.to), opts.send, opts.attach, stdout)
		}

		select {
		case <-gCtx.Done():
			return nil
		case a := <-session.Alerts():
			return fmt.Errorf("session ended by server: %s", a.Reason)
		}
	})

	return g.Wait()
}

// restore loads the last saved state. A snapshot from another schema version
// is discarded.
func restore(st *store.Store, db *storage.BboltStorage) error {
	snapshot, err := db.LoadSnapshot()
	switch {
	case err == nil:
		st.Restore(snapshot)
		return nil
	case errors.Is(err, models.ErrNotFound):
		return nil
	case errors.Is(err, storage.ErrSchemaVersion):
		slog.Warn("discarding saved state", "error", err)
		return nil
	default:
		return err
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
