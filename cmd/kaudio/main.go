// Command kaudio streams the microphone to a kaudio-server and prints the
// transcript as it arrives.
//
//	kaudio [flags] ws://host:8000/v1/audio/transcriptions/ws
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/MrWong99/kaudio/internal/client"
	"github.com/MrWong99/kaudio/pkg/audio"
	"github.com/MrWong99/kaudio/pkg/audio/device"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultServerURL = "ws://localhost:8000" + client.StreamPath

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for part := range strings.SplitSeq(v, "+") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var voices stringList
	deviceFlag := flag.String("device", "", `capture device index, or "list" to print the available devices`)
	outputDevice := flag.Int("output-device", audio.DefaultDevice, "playback device index for spoken replies")
	language := flag.String("language", "", "language hint, e.g. en (default: auto-detect)")
	prompt := flag.String("prompt", "", "initial prompt that biases recognition")
	outputDir := flag.String("output-dir", "./k.audio_output", "directory for saved transcripts and summaries")
	translate := flag.Bool("translate", false, "translate every final transcript")
	targetLang := flag.String("target-lang", "", "translation target language (required with -translate)")
	sourceLang := flag.String("source-lang", "", "translation source language (default: detected)")
	conversation := flag.Bool("conversation", false, "answer each final transcript with a spoken reply")
	chatModel := flag.String("chat-model", "", "model name sent with chat requests (default: server default)")
	flag.Var(&voices, "voice", "speech voice; repeat or join with + to blend voices")
	summarize := flag.Bool("summarize", false, "summarize the transcript when recording stops")
	file := flag.String("file", "", "transcribe a WAV file instead of recording")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [server-url]\n\nserver-url defaults to %s\n\n", os.Args[0], defaultServerURL)
		flag.PrintDefaults()
	}
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)})))

	serverURL := defaultServerURL
	if flag.NArg() > 0 {
		serverURL = flag.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := client.Options{
		ServerURL:    serverURL,
		Device:       audio.DefaultDevice,
		OutputDevice: *outputDevice,
		Language:     *language,
		Prompt:       *prompt,
		Translate:    *translate,
		TargetLang:   *targetLang,
		SourceLang:   *sourceLang,
		Conversation: *conversation,
		Voices:       voices,
		ChatModel:    *chatModel,
		OutputDir:    *outputDir,
		Summarize:    *summarize,
	}

	// File transcription needs no audio device.
	if *file != "" {
		c, err := client.New(opts, nil, client.WithOutput(os.Stdout))
		if err != nil {
			fmt.Fprintf(os.Stderr, "kaudio: %v\n", err)
			return 2
		}
		if _, err := c.TranscribeFile(ctx, *file); err != nil {
			return 1
		}
		return 0
	}

	platform, err := device.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kaudio: %v\n", err)
		return 1
	}
	defer platform.Close()

	switch d := strings.TrimSpace(*deviceFlag); d {
	case "":
	case "list":
		if err := client.ListDevices(os.Stdout, platform); err != nil {
			fmt.Fprintf(os.Stderr, "kaudio: %v\n", err)
			return 1
		}
		return 0
	default:
		idx, err := strconv.Atoi(d)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kaudio: -device must be an index or \"list\", got %q\n", d)
			return 2
		}
		opts.Device = idx
	}

	c, err := client.New(opts, platform, client.WithOutput(os.Stdout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "kaudio: %v\n", err)
		return 2
	}

	slog.Info("kaudio starting", "version", version, "server", serverURL, "conversation", *conversation, "translate", *translate)
	fmt.Fprintln(os.Stdout, "Recording. Press Ctrl+C to stop.")

	res, err := c.Run(ctx)
	if err != nil {
		var sce *client.ServerClosedError
		if errors.As(err, &sce) {
			fmt.Fprintf(os.Stderr, "kaudio: server ended the session: %s\n", sce.Reason)
		} else {
			fmt.Fprintf(os.Stderr, "kaudio: %v\n", err)
		}
		return 1
	}
	if len(res.Transcript) == 0 {
		fmt.Fprintln(os.Stdout, "No speech was transcribed.")
	}
	return 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
