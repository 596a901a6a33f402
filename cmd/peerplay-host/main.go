// peerplay-host hosts a game session that peers can join directly,
// over a punched connection, or through the relay.
//
// Usage:
//
//	peerplay-host [options]
//
// Options:
//
//	-port        UDP port to listen on (default: 47550)
//	-token       Lobby token shared with players (required)
//	-code        Lobby code (default: "LOCAL")
//	-name        Session name shown on the LAN (default: "peerplay session")
//	-max         Maximum players (default: 16)
//	-rendezvous  Matchmaking service URL (optional)
//	-lan         Advertise the session on the local network (default: true)
//	-relay       Also accept peers through the relay (needs -rendezvous)
//
// Example:
//
//	peerplay-host -token friday -rendezvous https://play.example.com
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/peerplay/peerplay/pkg/discovery"
	"github.com/peerplay/peerplay/pkg/relay"
	"github.com/peerplay/peerplay/pkg/rendezvous"
	"github.com/peerplay/peerplay/pkg/session"
	"github.com/peerplay/peerplay/pkg/sessionkey"
	"github.com/peerplay/peerplay/pkg/transport"
)

const heartbeatInterval = 30 * time.Second

func main() {
	port := flag.Int("port", transport.DefaultPort, "UDP port to listen on")
	token := flag.String("token", "", "lobby token shared with players")
	code := flag.String("code", "LOCAL", "lobby code")
	name := flag.String("name", "peerplay session", "session name shown on the LAN")
	maxPlayers := flag.Int("max", session.DefaultMaxSessions, "maximum players")
	rendezvousURL := flag.String("rendezvous", "", "matchmaking service URL")
	lan := flag.Bool("lan", true, "advertise the session on the local network")
	useRelay := flag.Bool("relay", false, "also accept peers through the relay")
	flag.Parse()

	if *token == "" {
		log.Fatal("-token is required")
	}
	if *useRelay && *rendezvousURL == "" {
		log.Fatal("-relay requires -rendezvous")
	}

	if err := run(hostOptions{
		port:          *port,
		token:         *token,
		code:          *code,
		name:          *name,
		maxPlayers:    *maxPlayers,
		rendezvousURL: *rendezvousURL,
		lan:           *lan,
		relay:         *useRelay,
	}); err != nil {
		log.Fatal(err)
	}
}

type hostOptions struct {
	port          int
	token         string
	code          string
	name          string
	maxPlayers    int
	rendezvousURL string
	lan           bool
	relay         bool
}

func run(opts hostOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loggerFactory := logging.NewDefaultLoggerFactory()

	registry := session.NewRegistry(session.RegistryConfig{
		MaxPeers: opts.maxPlayers,
		OnPayload: func(peer *session.Peer, payload []byte, reliable bool) {
			fmt.Printf("[session %d] %s\n", peer.ID(), payload)
			if reliable {
				peer.SendReliable(payload)
			}
		},
		OnTransfer: func(peer *session.Peer, payload []byte) {
			fmt.Printf("[session %d] transfer of %d bytes complete\n", peer.ID(), len(payload))
		},
		OnPeerJoined: func(peer *session.Peer) {
			fmt.Printf("player joined: session %d (%s)\n", peer.ID(), peer.Identity())
		},
		OnPeerLeft: func(peer *session.Peer, reason error) {
			fmt.Printf("player left: session %d (%v)\n", peer.ID(), reason)
		},
		LoggerFactory: loggerFactory,
	})
	defer registry.Close()

	psk, err := sessionkey.Derive(opts.token, opts.code)
	if err != nil {
		return fmt.Errorf("derive session key: %w", err)
	}

	server, err := transport.NewDirectServer(transport.DirectServerConfig{
		ListenAddr:    fmt.Sprintf(":%d", opts.port),
		PSK:           psk,
		Events:        registry.Events(),
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer server.Stop()

	fmt.Printf("hosting session %q on %s (lobby %s)\n", opts.name, server.LocalAddr(), opts.code)

	if opts.lan {
		advertiser, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Port:          opts.port,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return fmt.Errorf("create advertiser: %w", err)
		}
		if err := advertiser.Start(discovery.LobbyTXT{
			Code:       opts.code,
			Name:       opts.name,
			MaxPlayers: opts.maxPlayers,
		}); err != nil {
			log.Printf("LAN advertisement failed: %v", err)
		} else {
			defer advertiser.Close()
		}
	}

	if opts.rendezvousURL != "" {
		client, err := rendezvous.NewClient(rendezvous.Config{
			BaseURL:       opts.rendezvousURL,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return fmt.Errorf("create rendezvous client: %w", err)
		}

		lobby, err := client.CreateLobby(ctx)
		if err != nil {
			return fmt.Errorf("create lobby: %w", err)
		}
		fmt.Printf("lobby registered, join code: %s\n", lobby.Code)

		go heartbeatLoop(ctx, client, lobby)
		go joinerAcceptLoop(ctx, client, lobby, registry, psk, opts.relay, loggerFactory)
	}

	<-ctx.Done()
	fmt.Println("shutting down")
	return nil
}

func heartbeatLoop(ctx context.Context, client *rendezvous.Client, lobby *rendezvous.Lobby) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(ctx, lobby.Code, lobby.HostToken); err != nil {
				log.Printf("heartbeat failed: %v", err)
			}
		}
	}
}

// joinerAcceptLoop watches the lobby and answers each joiner in its
// announced mode: hole-punch joiners get the server side of a punch,
// relay joiners get a relay answer when -relay is set. Every accepted
// channel joins the registry like a direct connection would.
func joinerAcceptLoop(ctx context.Context, client *rendezvous.Client, lobby *rendezvous.Lobby,
	registry *session.Registry, psk []byte, relayEnabled bool, loggerFactory logging.LoggerFactory) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	accepted := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		clients, err := client.PendingClients(ctx, lobby.Code, lobby.HostToken)
		if err != nil {
			log.Printf("pending clients poll failed: %v", err)
			continue
		}

		for _, pending := range clients {
			if accepted[pending.ID] {
				continue
			}
			accepted[pending.ID] = true

			switch pending.Mode {
			case rendezvous.ModePunch:
				go acceptPunchJoiner(ctx, client, lobby, registry, psk, pending.ID, loggerFactory)
			case rendezvous.ModeRelay:
				if !relayEnabled {
					log.Printf("ignoring relay joiner %s: relay accept disabled", pending.ID)
					continue
				}
				go acceptRelayJoiner(ctx, client, lobby, registry, pending.ID, loggerFactory)
			default:
				log.Printf("ignoring joiner %s: unknown mode %q", pending.ID, pending.Mode)
			}
		}
	}
}

// acceptPunchJoiner runs the server side of a hole punch with one
// joiner and admits the punched channel.
func acceptPunchJoiner(ctx context.Context, client *rendezvous.Client, lobby *rendezvous.Lobby,
	registry *session.Registry, psk []byte, joinerID string, loggerFactory logging.LoggerFactory) {
	exchange := rendezvous.NewExchange(client, lobby.Code, "host", joinerID)

	var puncher *transport.HolePuncher
	puncher, err := transport.NewHolePuncher(transport.HolePunchConfig{
		Exchange: exchange,
		PSK:      psk,
		Role:     transport.RoleServer,
		OnData: func(data []byte) {
			registry.Dispatch(puncher.Identity(), data)
		},
		OnDisconnected: func(reason error) {
			registry.Remove(puncher.Identity(), reason)
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Printf("puncher for %s failed: %v", joinerID, err)
		return
	}

	if err := puncher.Connect(ctx); err != nil {
		log.Printf("punch with %s failed: %v", joinerID, err)
		puncher.Close()
		return
	}
	if _, err := registry.Admit(puncher); err != nil {
		log.Printf("admitting %s failed: %v", joinerID, err)
		puncher.Close()
	}
}

// acceptRelayJoiner answers one joiner over the relay and admits the
// channel.
func acceptRelayJoiner(ctx context.Context, client *rendezvous.Client, lobby *rendezvous.Lobby,
	registry *session.Registry, joinerID string, loggerFactory logging.LoggerFactory) {
	exchange := rendezvous.NewExchange(client, lobby.Code, "host", joinerID)
	conn, err := relay.Accept(ctx, relay.Config{
		Signaler: exchange,
		LocalID:  "host",
		RemoteID: transport.Identity(joinerID),
		OnData:   func(data []byte) { registry.Dispatch(transport.Identity(joinerID), data) },
		OnDisconnected: func(reason error) {
			registry.Remove(transport.Identity(joinerID), reason)
		},
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		log.Printf("relay accept for %s failed: %v", joinerID, err)
		return
	}
	if _, err := registry.Admit(conn); err != nil {
		log.Printf("admitting %s failed: %v", joinerID, err)
		conn.Close()
	}
}
