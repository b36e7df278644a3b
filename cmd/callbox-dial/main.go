// Command callbox-dial is a headless callbox client: it signs in as one
// identity, answers incoming calls, and optionally dials a remote party. It
// exists for soak testing a callbox deployment end to end without a browser.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veldt-labs/callbox/internal/callsession"
	"github.com/veldt-labs/callbox/internal/client"
	"github.com/veldt-labs/callbox/internal/config"
	"github.com/veldt-labs/callbox/internal/history"
)

func main() {
	fs := flag.NewFlagSet("callbox-dial", flag.ContinueOnError)
	serverURL := fs.String("server", "http://127.0.0.1:8080", "callbox server base URL")
	username := fs.String("username", "", "identity to sign in as (required)")
	token := fs.String("token", "", "bearer credential (API key or JWT), empty for auth mode none")
	callee := fs.String("call", "", "remote party to dial; empty means answer-only")
	video := fs.Bool("video", false, "dial a video call instead of audio")
	useFeed := fs.Bool("ws", false, "receive signals over the WebSocket push feed instead of HTTP polling")
	hangupAfter := fs.Duration("hangup-after", 0, "end a connected call after this long (0 = never)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if *username == "" {
		fmt.Fprintln(os.Stderr, "callbox-dial: -username is required")
		os.Exit(2)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *serverURL, *username, *token, *callee, *video, *useFeed, *hangupAfter); err != nil {
		logger.Error("callbox-dial failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, serverURL, username, token, callee string, video, useFeed bool, hangupAfter time.Duration) error {
	api, err := client.New(serverURL, client.Options{Credential: token})
	if err != nil {
		return err
	}

	media, err := callsession.NewPionMedia(cfg, logger)
	if err != nil {
		return fmt.Errorf("configure media: %w", err)
	}

	var transport callsession.Transport = api
	if useFeed {
		feed, err := api.DialFeed(ctx, username)
		if err != nil {
			return err
		}
		defer feed.Close()
		transport = client.NewFeedTransport(api, feed)
	}

	ctrl := callsession.NewController(username, transport, media, media, api, callsession.Options{
		Logger:        logger,
		AnswerTimeout: cfg.AnswerTimeout,
		OnIncoming: func(sess *callsession.Session) {
			logger.Info("incoming call answered",
				"from", sess.RemoteParty,
				"kind", string(sess.Kind),
			)
		},
	})

	poller := client.NewPoller(transport, ctrl, username, cfg.PollInterval, logger)
	pollDone := make(chan error, 1)
	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	go func() { pollDone <- poller.Run(pollCtx) }()

	if callee != "" {
		kind := history.KindAudio
		if video {
			kind = history.KindVideo
		}
		if _, err := ctrl.PlaceCall(ctx, callee, kind); err != nil {
			return fmt.Errorf("place call to %s: %w", callee, err)
		}
		logger.Info("dialing", "to", callee, "kind", string(kind))
	}

	watch := time.NewTicker(cfg.PollInterval)
	defer watch.Stop()

	var hangup <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			ctrl.EndCall(context.Background())
			cancelPoll()
			<-pollDone
			return nil
		case <-hangup:
			logger.Info("hangup timer fired")
			ctrl.EndCall(ctx)
		case <-watch.C:
			sess := ctrl.Session()
			if sess == nil {
				continue
			}
			if hangupAfter > 0 && hangup == nil && sess.State() == callsession.StateConnected {
				timer := time.NewTimer(hangupAfter)
				defer timer.Stop()
				hangup = timer.C
			}
			// A dialing run exits once its call attempt resolves; an
			// answer-only run keeps serving the next call.
			if callee != "" && sess.State().Terminal() {
				cancelPoll()
				<-pollDone
				return nil
			}
		}
	}
}
