package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voicemesh/internal/audio"
	"voicemesh/internal/core/domain"
	"voicemesh/internal/infrastructure/signal"
	"voicemesh/internal/mesh"
	"voicemesh/internal/screenshare"
	"voicemesh/pkg/config"
	"voicemesh/pkg/logger"
)

// The agent is a headless voice participant: it joins a room, streams a test
// tone through the full gate pipeline, and answers negotiation from real
// clients. Useful for soak testing a relay and as an echo peer in rooms.
func main() {
	var (
		relayURL   = flag.String("relay", "http://localhost:8080", "relay base URL")
		room       = flag.String("room", "", "voice room to join")
		name       = flag.String("name", "voicemesh-agent", "display name")
		configPath = flag.String("config", "", "config file path")
		toneFreq   = flag.Float64("tone", 440, "test tone frequency in Hz, 0 for silence")
	)
	flag.Parse()

	if *room == "" {
		fmt.Fprintln(os.Stderr, "usage: agent -room <room> [-relay URL] [-name NAME]")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	token, err := fetchToken(*relayURL, *name)
	if err != nil {
		log.Fatalw("token request failed", "relay", *relayURL, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := signal.Dial(ctx, wsURL(*relayURL), token, zapLogger)
	cancel()
	if err != nil {
		log.Fatalw("relay connection failed", "error", err)
	}
	defer client.Close()

	gains := audio.NewGainRegistry(gainSettingsPath(), zapLogger)

	amplitude := 0.2
	if *toneFreq == 0 {
		amplitude = 0
	}
	micFactory := func() (audio.CaptureSource, error) {
		return audio.NewToneSource(*toneFreq, amplitude, cfg.Voice.GateInterval), nil
	}

	manager := mesh.NewManager(cfg, client, mesh.NewPeerConnFactory(cfg), micFactory, gains, zapLogger)

	coordinator := screenshare.NewCoordinator(manager, client, func() (*screenshare.Capture, error) {
		return nil, fmt.Errorf("screen capture is not available on a headless agent")
	}, zapLogger)
	manager.SetShareStopper(coordinator.Stop)
	manager.OnPeerGone(func(userID domain.UserID) {
		log.Infow("peer gone", "peer", userID)
	})

	if err := manager.Join(domain.RoomID(*room)); err != nil {
		log.Fatalw("join failed", "room", *room, "error", err)
	}

	go func() {
		for env := range client.Events() {
			manager.HandleEvent(env)
		}
	}()

	statusTicker := time.NewTicker(10 * time.Second)
	defer statusTicker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Infow("agent running", "room", *room, "name", *name)
	for {
		select {
		case <-statusTicker.C:
			talking := make([]domain.UserID, 0)
			for _, id := range manager.Sessions() {
				if manager.Talking(id) {
					talking = append(talking, id)
				}
			}
			log.Infow("room status",
				"peers", len(manager.Sessions()),
				"talking", talking,
				"self_talking", manager.SelfTalking(),
				"sharers", len(manager.RemoteSharers()),
			)

		case sig := <-sigChan:
			log.Infow("shutting down", "signal", sig)
			manager.Leave()
			return
		}
	}
}

func fetchToken(relayURL, displayName string) (string, error) {
	body, err := json.Marshal(map[string]string{"display_name": displayName})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(relayURL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.AccessToken, nil
}

func wsURL(relayURL string) string {
	u := strings.Replace(relayURL, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.TrimSuffix(u, "/") + "/ws"
}

func gainSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "voicemesh-gains.json"
	}
	return filepath.Join(dir, "voicemesh", "gains.json")
}
