// Duet is the participant CLI entry point.
//
// Joins a two-party session as one participant: camera and microphone on one
// WebRTC connection, screen sharing on a second, negotiated through a
// WebSocket relay (see cmd/relay).
//
// It can be launched interactively (missing values are prompted for) or
// non-interactively via flags (--session, --signaling, --participant, ...).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/duet/internal/app"
	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	flags := pflag.NewFlagSet("duet", pflag.ContinueOnError)
	configPath := flags.String("config", "", "YAML config file (default $DUET_CONFIG)")
	participant := flags.String("participant", "", "Participant id (default: random)")
	session := flags.String("session", "", "Session id to join")
	signalingURL := flags.String("signaling", "", "Relay WebSocket URL, e.g. ws://localhost:8080/ws")
	turnURL := flags.String("turn-url", "", "TURN credential endpoint")
	glare := flags.String("glare", "", "Glare policy: polite or tiebreak")
	timeout := flags.Duration("negotiation-timeout", 0, "How long an offer waits for its answer (negative disables)")
	loopback := flags.Bool("loopback", false, "Include loopback ICE candidates")
	debugMode := flags.Bool("debug", false, "Enable debug logging")
	interactive := flags.BoolP("interactive", "i", false, "Prompt for missing values")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		util.LogError("%v", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	// Flags win over file and environment.
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = strings.TrimSpace(v)
		}
	}
	set("participant", &cfg.Participant, *participant)
	set("session", &cfg.Session, *session)
	set("signaling", &cfg.SignalingURL, *signalingURL)
	set("turn-url", &cfg.ICE.TURNURL, *turnURL)
	set("glare", &cfg.Glare, *glare)
	if flags.Changed("negotiation-timeout") {
		cfg.NegotiationTimeout = *timeout
	}
	if flags.Changed("loopback") {
		cfg.Transport.Loopback = *loopback
	}
	if flags.Changed("debug") {
		cfg.Debug = *debugMode
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Duet v%s", version))
	pterm.Println()

	if *interactive || cfg.Session == "" {
		runInteractive(cfg)
	}

	if cfg.SignalingURL != "" {
		u, err := config.NormalizeURL(cfg.SignalingURL)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.SignalingURL = u
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("successfully left the session")
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// runInteractive prompts for the values a call cannot start without.
func runInteractive(cfg *config.Config) {
	if cfg.SignalingURL == "" {
		cfg.SignalingURL = askURL()
	}
	if cfg.Session == "" {
		cfg.Session = askText("Session id")
	}

	name, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Participant id").
		WithDefaultValue(cfg.Participant).
		Show()
	if name = strings.TrimSpace(name); name != "" {
		cfg.Participant = name
	}
	pterm.Println()
}

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("a value is required")
		pterm.Println()
	}
}

// askURL prompts the user for a valid relay URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. ws://localhost:8080/ws)").
			Show()

		u, err := config.NormalizeURL(raw)
		if err == nil {
			pterm.Println()
			return u
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
