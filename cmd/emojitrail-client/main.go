// Command emojitrail-client is a headless participant: it joins a room,
// random-walks its avatar and keeps its view of the room in sync.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"emojitrail/config"
	"emojitrail/game"
	"emojitrail/logging"
	"emojitrail/protocol"
	"emojitrail/roomid"
	"emojitrail/session"
)

func main() {
	cfgPath := flag.String("config", "", "path to emojitrail.yaml (optional)")
	server := flag.String("server", "", "relay base URL, overrides session.server_url")
	page := flag.String("page", "", "game page URL for share links, overrides session.page_url")
	roomFlag := flag.String("room", "", "room code or share link; empty mints a new room")
	name := flag.String("name", "Player", "display name")
	codec := flag.String("codec", "", "wire codec: json|cbor|msgpack")
	flag.Parse()

	if err := run(*cfgPath, *server, *page, *roomFlag, *name, *codec); err != nil {
		fmt.Fprintln(os.Stderr, "emojitrail-client:", err)
		os.Exit(1)
	}
}

func run(cfgPath, server, page, roomArg, name, codec string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if server != "" {
		cfg.Session.ServerURL = server
	}
	if page != "" {
		cfg.Session.PageURL = page
	}
	if codec != "" {
		if _, err := protocol.NewRegistry().Lookup(codec); err != nil {
			return err
		}
		cfg.Session.Codec = codec
	}
	log, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer log.Sync()

	roomID := resolveRoom(roomArg)
	s := session.New(session.Options{
		Config: cfg.Session,
		RoomID: roomID,
		Logger: log.Named("session"),
		OnRosterChange: func(n int) {
			log.Info("roster changed", zap.Int("players", n))
		},
		OnConnectionStatusChange: func(connected bool) {
			log.Info("connection status", zap.Bool("connected", connected))
		},
	})
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := s.Join(ctx, name)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	log.Info("playing", zap.String("player", id), zap.String("room", s.RoomID()))
	if link, err := roomid.ShareURL(cfg.Session.PageURL, s.RoomID()); err == nil {
		log.Info("share this room", zap.String("link", link))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return frames(ctx, s) })
	g.Go(func() error { return broadcasts(ctx, s, cfg.Session.BroadcastInterval) })
	g.Go(func() error { return wander(ctx, s, rand.New(rand.NewSource(time.Now().UnixNano()))) })
	g.Go(func() error { return report(ctx, s, log) })
	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// resolveRoom accepts a bare code or a full share link.
func resolveRoom(arg string) string {
	if u, err := url.Parse(arg); err == nil && u.RawQuery != "" {
		return roomid.FromURL(u)
	}
	return roomid.Resolve(arg)
}

func frames(ctx context.Context, s *session.Session) error {
	t := time.NewTicker(time.Second / protocol.FrameHz)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			s.Advance(now)
		}
	}
}

func broadcasts(ctx context.Context, s *session.Session, every time.Duration) error {
	if every <= 0 {
		every = time.Second / protocol.BroadcastHz
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.BroadcastLocalState()
		}
	}
}

// wander holds a random arrow key for a moment, then picks another.
func wander(ctx context.Context, s *session.Session, rng *rand.Rand) error {
	held := ""
	for {
		if held != "" {
			s.SetKey(held, false)
		}
		held = game.Directions[rng.Intn(len(game.Directions))]
		s.SetKey(held, true)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(300+rng.Intn(900)) * time.Millisecond):
		}
	}
}

func report(ctx context.Context, s *session.Session, log *zap.Logger) error {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			v := s.View()
			local, _ := v.Local()
			log.Info("status",
				zap.Bool("connected", v.Connected),
				zap.Bool("fallback", v.Fallback),
				zap.Int("players", len(v.Participants)),
				zap.Int("score", local.Score),
				zap.Int("collectibles", len(v.Collectibles)),
			)
		}
	}
}
