package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/voxlink/callrelay-go/pkg/callrelay"
)

var (
	verbose  bool
	relayURL string
	language string
	voice    string
	outFile  string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "callrelay",
		Short: "Duplex audio call relay",
		Long:  "A websocket relay that streams microphone audio to a call peer and plays synthesized replies",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logCfg := callrelay.DefaultLogConfig()
				logCfg.Level = zerolog.DebugLevel
				callrelay.SetGlobalLogger(callrelay.NewRelayLogger(logCfg))
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay-url", "http://127.0.0.1:5002", "Base URL of a running relay service")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(transcribeCmd())
	rootCmd.AddCommand(synthesizeCmd())

	if err := rootCmd.Execute(); err != nil {
		callrelay.GetGlobalLogger().WithError(err).Fatal("CLI execution failed")
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay service",
		Long:  "Start the call relay: websocket transport, HTTP control surface and audio engines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := callrelay.NewRelayConfig()
			svc, err := callrelay.NewService(cfg)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- svc.Run() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				svc.Shutdown(context.Background())
				return err
			case sig := <-sigCh:
				callrelay.GetGlobalLogger().Infof("Received %s, shutting down", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return svc.Shutdown(ctx)
			}
		},
	}
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio device commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := callrelay.NewDeviceRegistry()
			if err != nil {
				return err
			}
			defer registry.Close()

			fmt.Println("Available audio devices:")
			for _, dev := range registry.Devices() {
				fmt.Printf("  [%d] %s (in: %d, out: %d, %.0f Hz)\n",
					dev.Index, dev.Name, dev.MaxInputChannels, dev.MaxOutputChannels, dev.DefaultSampleRate)
			}
			return nil
		},
	})

	return cmd
}

func callCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Control a running relay's call session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the call (begin streaming microphone audio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postRelay("/api/call_started")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "end",
		Short: "End the call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postRelay("/api/call_ended")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(relayURL + "/api/call_status")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return printJSONBody(resp.Body)
		},
	})

	return cmd
}

func transcribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe a raw PCM file through the speech backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			client := callrelay.NewSpeechClient(callrelay.NewRelayConfig())
			text, err := client.Transcribe(cmd.Context(), audio, language)
			if err != nil {
				return err
			}

			fmt.Println(text)
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "Language hint for transcription")
	return cmd
}

func synthesizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synthesize <text>",
		Short: "Synthesize text through the speech backend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := callrelay.NewRelayConfig()
			if voice != "" {
				cfg.Voice = voice
			}

			client := callrelay.NewSpeechClient(cfg)
			audio, contentType, err := client.Synthesize(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			if outFile == "" {
				return fmt.Errorf("refusing to write %d bytes of %s to stdout, use --out", len(audio), contentType)
			}
			if err := os.WriteFile(outFile, audio, 0o644); err != nil {
				return err
			}

			fmt.Printf("Wrote %d bytes (%s) to %s\n", len(audio), contentType, outFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "Voice to synthesize with")
	cmd.Flags().StringVar(&outFile, "out", "", "Output file for the synthesized audio")
	return cmd
}

func postRelay(path string) error {
	resp, err := http.Post(relayURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSONBody(resp.Body)
}

func printJSONBody(body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(data, &pretty); err != nil {
		fmt.Println(string(data))
		return nil
	}

	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}
