// peerplay-join joins a hosted game session. Lines read from stdin
// are sent to the host as reliable payloads; payloads from the host
// are printed.
//
// Usage:
//
//	peerplay-join [options]
//
// Options:
//
//	-addr        Host "ip:port" for a direct connection
//	-code        Lobby code (default: "LOCAL")
//	-token       Lobby token shared by the host (required)
//	-rendezvous  Matchmaking service URL (for punch and relay modes)
//	-mode        direct | punch | relay (default: direct)
//	-id          Identity announced to the lobby (default: "joiner")
//
// With -mode direct and no -addr, the local network is browsed for a
// session advertising the lobby code.
//
// Examples:
//
//	peerplay-join -token friday -addr 192.168.1.10:47550
//	peerplay-join -token friday -code GAME42 -mode punch -rendezvous https://play.example.com
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/pion/logging"

	"github.com/peerplay/peerplay/pkg/discovery"
	"github.com/peerplay/peerplay/pkg/relay"
	"github.com/peerplay/peerplay/pkg/rendezvous"
	"github.com/peerplay/peerplay/pkg/session"
	"github.com/peerplay/peerplay/pkg/sessionkey"
	"github.com/peerplay/peerplay/pkg/transport"
)

func main() {
	addr := flag.String("addr", "", `host "ip:port" for a direct connection`)
	code := flag.String("code", "LOCAL", "lobby code")
	token := flag.String("token", "", "lobby token shared by the host")
	rendezvousURL := flag.String("rendezvous", "", "matchmaking service URL")
	mode := flag.String("mode", "direct", "direct | punch | relay")
	selfID := flag.String("id", "joiner", "identity announced to the lobby")
	flag.Parse()

	if *token == "" {
		log.Fatal("-token is required")
	}

	if err := run(joinOptions{
		addr:          *addr,
		code:          *code,
		token:         *token,
		rendezvousURL: *rendezvousURL,
		mode:          *mode,
		selfID:        *selfID,
	}); err != nil {
		log.Fatal(err)
	}
}

type joinOptions struct {
	addr          string
	code          string
	token         string
	rendezvousURL string
	mode          string
	selfID        string
}

func run(opts joinOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loggerFactory := logging.NewDefaultLoggerFactory()

	psk, err := sessionkey.Derive(opts.token, opts.code)
	if err != nil {
		return fmt.Errorf("derive session key: %w", err)
	}

	// The transport starts delivering before the peer exists, so the
	// handler dereferences through an atomic pointer.
	var peerRef atomic.Pointer[session.Peer]
	onData := func(data []byte) {
		if p := peerRef.Load(); p != nil {
			p.HandleDatagram(data)
		}
	}
	onDisconnected := func(reason error) {
		if reason != nil {
			log.Printf("disconnected: %v", reason)
		}
		stop()
	}

	var conn transport.Conn
	switch opts.mode {
	case "direct":
		conn, err = connectDirect(ctx, opts, psk, onData, onDisconnected, loggerFactory)
	case "punch":
		conn, err = connectPunch(ctx, opts, psk, onData, onDisconnected, loggerFactory)
	case "relay":
		conn, err = connectRelay(ctx, opts, onData, onDisconnected, loggerFactory)
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	peer, err := session.NewPeer(session.PeerConfig{
		Conn: conn,
		OnPayload: func(_ *session.Peer, payload []byte, _ bool) {
			fmt.Printf("[host] %s\n", payload)
		},
		OnTransfer: func(_ *session.Peer, payload []byte) {
			fmt.Printf("[host] transfer of %d bytes complete\n", len(payload))
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	peerRef.Store(peer)
	if err := peer.Start(); err != nil {
		return fmt.Errorf("start peer: %w", err)
	}
	defer peer.Close()

	fmt.Printf("connected to %s, type to chat\n", conn.Identity())

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if err := peer.SendReliable([]byte(line)); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func connectDirect(ctx context.Context, opts joinOptions, psk []byte,
	onData func([]byte), onDisconnected func(error),
	loggerFactory logging.LoggerFactory) (transport.Conn, error) {

	addr := opts.addr
	if addr == "" {
		resolver, err := discovery.NewResolver(discovery.ResolverConfig{})
		if err != nil {
			return nil, fmt.Errorf("create resolver: %w", err)
		}
		found, err := resolver.Find(ctx, opts.code)
		if err != nil {
			return nil, fmt.Errorf("browse LAN: %w", err)
		}
		if found == nil {
			return nil, fmt.Errorf("no LAN session advertising lobby %s", opts.code)
		}
		addr = found.Addr()
		fmt.Printf("found %q on the LAN at %s\n", found.Lobby.Name, addr)
	}

	client, err := transport.NewDirectClient(transport.DirectClientConfig{
		RemoteAddr:     addr,
		PSK:            psk,
		OnData:         onData,
		OnDisconnected: onDisconnected,
		LoggerFactory:  loggerFactory,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return client, nil
}

func connectPunch(ctx context.Context, opts joinOptions, psk []byte,
	onData func([]byte), onDisconnected func(error),
	loggerFactory logging.LoggerFactory) (transport.Conn, error) {

	if opts.rendezvousURL == "" {
		return nil, fmt.Errorf("punch mode requires -rendezvous")
	}
	client, err := rendezvous.NewClient(rendezvous.Config{
		BaseURL:       opts.rendezvousURL,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return nil, err
	}

	if _, err := client.Join(ctx, opts.code, opts.selfID, "", rendezvous.ModePunch); err != nil {
		return nil, fmt.Errorf("join lobby: %w", err)
	}

	exchange := rendezvous.NewExchange(client, opts.code, opts.selfID, "host")
	puncher, err := transport.NewHolePuncher(transport.HolePunchConfig{
		Exchange:       exchange,
		PSK:            psk,
		Role:           transport.RoleClient,
		OnData:         onData,
		OnDisconnected: onDisconnected,
		LoggerFactory:  loggerFactory,
	})
	if err != nil {
		return nil, err
	}
	if err := puncher.Connect(ctx); err != nil {
		return nil, fmt.Errorf("punch: %w", err)
	}
	return puncher, nil
}

func connectRelay(ctx context.Context, opts joinOptions,
	onData func([]byte), onDisconnected func(error),
	loggerFactory logging.LoggerFactory) (transport.Conn, error) {

	if opts.rendezvousURL == "" {
		return nil, fmt.Errorf("relay mode requires -rendezvous")
	}
	client, err := rendezvous.NewClient(rendezvous.Config{
		BaseURL:       opts.rendezvousURL,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return nil, err
	}

	if _, err := client.Join(ctx, opts.code, opts.selfID, "", rendezvous.ModeRelay); err != nil {
		return nil, fmt.Errorf("join lobby: %w", err)
	}

	exchange := rendezvous.NewExchange(client, opts.code, opts.selfID, "host")
	conn, err := relay.Dial(ctx, relay.Config{
		Signaler:       exchange,
		LocalID:        transport.Identity(opts.selfID),
		RemoteID:       "host",
		OnData:         onData,
		OnDisconnected: onDisconnected,
		LoggerFactory:  loggerFactory,
	})
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", err)
	}
	return conn, nil
}
