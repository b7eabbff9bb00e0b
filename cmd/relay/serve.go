// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"expvar"
	"fmt"
	"net"

	"github.com/creachadair/command"
	"github.com/creachadair/relay"
	"github.com/creachadair/relay/agent"
	"github.com/creachadair/relay/channel"
	"github.com/creachadair/relay/dispatch"
	"github.com/creachadair/relay/httpapi"
	"github.com/creachadair/relay/peers"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

func init() { expvar.Publish("relay", relay.Metrics()) }

func runServe(env *command.Env) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(&cfg); err != nil {
		return env.Usagef("%v", err)
	}
	ctx, cancel := signalContext(env)
	defer cancel()

	plst, err := peers.Listen(cfg.PeerAddr)
	if err != nil {
		return fmt.Errorf("listen for peer: %w", err)
	}
	hlst, err := net.Listen(relay.SplitAddress(cfg.HTTPAddr))
	if err != nil {
		plst.Close()
		return fmt.Errorf("listen for callers: %w", err)
	}

	blog := log.With().Str("component", "broker").Logger()
	b := relay.New(&relay.Options{
		Logger:         &blog,
		DefaultTimeout: cfg.CallTimeout,
		Handlers:       brokerMethods(),
		LogFrames:      frameLogger(blog, serveFlags.Trace),
		Heartbeat:      cfg.Heartbeat,
		KeepEvents:     cfg.KeepEvents,
	})
	hlog := log.With().Str("component", "http").Logger()
	srv := httpapi.New(b, &httpapi.Options{
		Logger:       &hlog,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
		AllowOrigins: cfg.AllowOrigins,
	})

	log.Info().
		Str("peer_addr", plst.Addr().String()).
		Str("http_addr", hlst.Addr().String()).
		Str("instance", b.Instance()).
		Stringer("framing", cfg.Framing).
		Dur("call_timeout", cfg.CallTimeout).
		Msg("starting broker")

	acc := peers.NetAccepter(plst, &channel.IOOptions{
		Framing:      cfg.Framing,
		MaxFrameSize: cfg.MaxFrameSize,
	})
	g := taskgroup.New(nil)
	g.Go(func() error {
		defer cancel()
		return b.Serve(ctx, acc)
	})
	g.Go(func() error {
		defer cancel()
		return srv.Run(ctx, hlst)
	})
	<-ctx.Done()
	b.Close()
	err = g.Wait()
	log.Info().Err(err).Msg("broker exited")
	return err
}

// brokerMethods returns the methods the broker answers for its peer.
func brokerMethods() *dispatch.Table {
	return dispatch.New().HandleCatalog()
}

func frameLogger(log zerolog.Logger, trace bool) relay.FrameLogger {
	if !trace {
		return nil
	}
	return func(fi relay.FrameInfo) {
		log.Debug().Str("frame", fi.String()).Msg("trace")
	}
}

func runPeer(env *command.Env) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.PeerAddr
	overrideString(&addr, peerFlags.Addr)

	st := agent.NewStudio(peerFlags.Catalog, "/catalogs/"+peerFlags.Catalog+".lrcat",
		agent.Photo{ID: 1, Filename: "IMG_0001.dng"},
		agent.Photo{ID: 2, Filename: "IMG_0002.dng"},
		agent.Photo{ID: 3, Filename: "IMG_0003.dng"},
	)
	st.Select(1, 2)

	alog := log.With().Str("component", "agent").Logger()
	a := agent.New(st.Register(dispatch.New().HandleCatalog()), &agent.Options{Logger: &alog})

	ctx, cancel := signalContext(env)
	defer cancel()
	alog.Info().Str("broker", addr).Str("catalog", peerFlags.Catalog).Msg("starting peer")
	return a.Run(ctx, agent.NetDialer(addr, &channel.IOOptions{
		Framing:      cfg.Framing,
		MaxFrameSize: cfg.MaxFrameSize,
	}))
}
