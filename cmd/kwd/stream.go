package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
	"github.com/cvejlbo/avs-device-sdk/internal/protocol"
)

func streamCmd() *cobra.Command {
	var (
		addr    string
		frameMs int
		loop    bool
	)

	cmd := &cobra.Command{
		Use:   "stream <file.wav>",
		Short: "Send a WAV file to the UDP ingest at real-time pace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return sendWAV(ctx, cmd, args[0], addr, time.Duration(frameMs)*time.Millisecond, loop)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4444", "UDP ingest address")
	cmd.Flags().IntVar(&frameMs, "frame-ms", 20, "audio per packet in milliseconds")
	cmd.Flags().BoolVar(&loop, "loop", false, "repeat the file until interrupted")

	return cmd
}

func sendWAV(ctx context.Context, cmd *cobra.Command, path, addr string, frame time.Duration, loop bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	samples, info, err := audio.DecodeWAV(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	frameSamples := int(info.SampleRate) * int(frame/time.Millisecond) / 1000
	if frameSamples <= 0 || frameSamples*2 > protocol.MaxPayloadSize {
		return fmt.Errorf("frame of %s at %d Hz does not fit a packet", frame, info.SampleRate)
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "streaming %s (%.2fs, %d Hz) to %s\n", path, info.Duration, info.SampleRate, addr)

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	var seq uint32
	pos := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		end := pos + frameSamples
		if end > len(samples) {
			end = len(samples)
		}

		seq++
		packet, err := protocol.BuildAudioPacket(seq, audio.SamplesToBytes(samples[pos:end]))
		if err != nil {
			return err
		}
		if _, err := conn.Write(packet); err != nil {
			return fmt.Errorf("failed to send packet %d: %w", seq, err)
		}
		pos = end

		if pos >= len(samples) {
			if !loop {
				fmt.Fprintf(cmd.OutOrStdout(), "sent %d packets\n", seq)
				return nil
			}
			pos = 0
		}
	}
}
