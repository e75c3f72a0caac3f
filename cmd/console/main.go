package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"

	"github.com/aivox-labs/voicechat-client/pkg/audio"
	"github.com/aivox-labs/voicechat-client/pkg/settings"
	"github.com/aivox-labs/voicechat-client/pkg/voicechat"
)

type envOverrides struct {
	ServerURL   string `env:"VOICECHAT_SERVER_URL"`
	DeviceID    string `env:"VOICECHAT_DEVICE_ID"`
	DeviceName  string `env:"VOICECHAT_DEVICE_NAME"`
	Token       string `env:"VOICECHAT_TOKEN"`
	AutoConnect bool   `env:"VOICECHAT_AUTO_CONNECT"`
	ConfigPath  string `env:"VOICECHAT_CONFIG"`
	Debug       bool   `env:"VOICECHAT_DEBUG"`
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	ctx := context.Background()

	var env envOverrides
	if err := envconfig.Process(ctx, &env); err != nil {
		log.Fatalf("Error: invalid environment configuration: %v", err)
	}

	configPath := env.ConfigPath
	if configPath == "" {
		p, err := settings.DefaultPath()
		if err != nil {
			log.Fatalf("Error: cannot resolve config path: %v", err)
		}
		configPath = p
	}

	stored, err := settings.Load(configPath)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if env.ServerURL != "" {
		stored.ServerURL = env.ServerURL
	}
	if env.DeviceID != "" {
		stored.DeviceID = env.DeviceID
	}
	if env.DeviceName != "" {
		stored.DeviceName = env.DeviceName
	}
	if env.Token != "" {
		stored.Token = env.Token
	}
	if env.AutoConnect {
		stored.AutoConnect = true
	}

	opts := voicechat.Options{}
	if env.Debug {
		opts.LogWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	client := voicechat.New(opts)
	defer client.Close()

	// Decoded playback audio accumulates here for /save.
	capture := &captureBuffer{}
	client.SetAudioTap(capture.add)

	client.OnStatusChange(func(s voicechat.StatusSnapshot) {
		switch s.Status {
		case voicechat.StatusConnected:
			fmt.Printf("\r\033[K[STATUS] Connected (session %s)\n", s.SessionID)
		case voicechat.StatusReconnectWait:
			fmt.Printf("\r\033[K[STATUS] Connection lost, retrying in %ds...\n", s.RetryIn)
		case voicechat.StatusReconnectFailed:
			fmt.Printf("\r\033[K[STATUS] Reconnect failed. Use /reconnect to try again.\n")
		default:
			fmt.Printf("\r\033[K[STATUS] %s\n", s.Status)
		}
	})

	client.OnMessage(func(msg voicechat.ControlMessage) {
		switch {
		case msg.Type == voicechat.TypeSTT && msg.Text != "":
			fmt.Printf("\r\033[K[YOU] %s\n", msg.Text)
		case msg.Type == voicechat.TypeTTS && msg.State == voicechat.StateSentenceStart && msg.Text != "":
			fmt.Printf("\r\033[K[BOT] %s\n", msg.Text)
		}
	})

	if err := client.EnableAudio(ctx); err != nil {
		fmt.Printf("Warning: audio playback disabled: %v\n", err)
	}

	cfg := voicechat.Config{
		Endpoint:   stored.ServerURL,
		DeviceID:   stored.DeviceID,
		DeviceName: stored.DeviceName,
		Token:      stored.Token,
	}

	fmt.Printf("Server: %s | Device: %s\n", cfg.Endpoint, cfg.DeviceID)
	fmt.Println("Type a message and press Enter to send it.")
	fmt.Println("Commands: /connect /disconnect /reconnect /rec /stop /status /transcript /logs /save <file> /quit")

	if stored.AutoConnect {
		client.Connect(ctx, cfg)
	}

	// Output level meter while the assistant speaks.
	go func() {
		for {
			level := client.Level()
			if level > 0 {
				dots := int(level * 200)
				if dots > 40 {
					dots = 40
				}
				fmt.Printf("\r[SPEAKER: %-40s]", strings.Repeat("|", dots))
			}
			time.Sleep(100 * time.Millisecond)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

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
		case <-sig:
			fmt.Printf("\nShutting down...\n")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, client, cfg, configPath, stored, capture, line) {
				return
			}
		}
	}
}

type captureBuffer struct {
	mu      sync.Mutex
	samples []float32
}

func (c *captureBuffer) add(chunk []float32) {
	c.mu.Lock()
	c.samples = append(c.samples, chunk...)
	c.mu.Unlock()
}

func (c *captureBuffer) snapshot() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float32, len(c.samples))
	copy(out, c.samples)
	return out
}

// handleLine runs one console command. It returns false when the console
// should exit.
func handleLine(ctx context.Context, client *voicechat.Client, cfg voicechat.Config, configPath string, stored settings.Settings, capture *captureBuffer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	if !strings.HasPrefix(line, "/") {
		if !client.SendText(line) {
			fmt.Println("Not connected. Use /connect first.")
		}
		return true
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/connect":
		client.Connect(ctx, cfg)
	case "/disconnect":
		client.Disconnect()
	case "/reconnect":
		client.Reconnect(ctx)
	case "/rec":
		if err := client.StartRecording(); err != nil {
			fmt.Printf("Error: %v\n", err)
		} else {
			fmt.Println("Recording... use /stop to finish.")
		}
	case "/stop":
		if err := client.StopRecording(); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	case "/status":
		s := client.Status()
		fmt.Printf("Status: %s | Connected: %v | Session: %s\n", s.Status, s.Connected, s.SessionID)
		if s.ConnectedAt != nil {
			fmt.Printf("Connected since: %s\n", s.ConnectedAt.Format(time.RFC3339))
		}
	case "/transcript":
		for _, e := range client.Transcript() {
			speaker := "BOT"
			if e.IsUser {
				speaker = "YOU"
			}
			fmt.Printf("[%s] %s\n", speaker, e.Content)
		}
	case "/logs":
		for _, e := range client.Logs() {
			fmt.Printf("%s [%s] %s\n", e.Time.Format("15:04:05"), e.Level, e.Message)
		}
	case "/save":
		if arg == "" {
			arg = "playback.wav"
		}
		samples := capture.snapshot()
		if len(samples) == 0 {
			fmt.Println("No audio captured yet.")
			return true
		}
		wav := audio.NewWavBufferFromSamples(samples, 16000)
		if err := os.WriteFile(arg, wav, 0o644); err != nil {
			fmt.Printf("Error: %v\n", err)
		} else {
			fmt.Printf("Wrote %d samples to %s\n", len(samples), arg)
		}
	case "/saveconfig":
		stored.ServerURL = cfg.Endpoint
		if err := settings.Save(configPath, stored); err != nil {
			fmt.Printf("Error: %v\n", err)
		} else {
			fmt.Printf("Saved settings to %s\n", configPath)
		}
	case "/quit", "/exit":
		return false
	default:
		fmt.Printf("Unknown command %s\n", cmd)
	}
	return true
}
