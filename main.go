package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"agtui/config"
	"agtui/model"
	"agtui/preview"
	"agtui/storage"
	"agtui/stream"
	"agtui/transport"
	"agtui/ui"
)

const Version = "v0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	// The archive is best-effort: a broken database degrades to an
	// in-memory-only session rather than refusing to start.
	archive, err := storage.NewTurnArchive(cfg.DataDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: turn archive unavailable: %v\n", err)
		archive = nil
	}
	if archive != nil {
		defer archive.Close()
	}

	client := transport.NewClient(transport.Config{ServerURL: cfg.ServerURL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	var previewSrv *preview.Server
	if cfg.PreviewEnabled {
		previewSrv = preview.NewServer()
		go func() {
			if err := previewSrv.Start(cfg.PreviewAddr); err != nil && config.DebugLog != nil {
				config.DebugLog.Printf("[Main] preview server stopped: %v", err)
			}
		}()
		defer previewSrv.Shutdown(context.Background())
	}

	var program *tea.Program

	asm := stream.NewAssembler(stream.Config{
		HTMLTool:      cfg.HTMLTool,
		FlushInterval: cfg.FlushInterval(),
	}, func(ev stream.Event) {
		// Events arrive on the transport goroutine (and the debounce timer
		// goroutine); Send hands them to the tea update loop in order.
		program.Send(model.StreamEventMsg{Event: ev})
	})

	dataModel := model.NewModel(cfg, archive, client, asm, threadIDFromEnv())

	program = tea.NewProgram(
		ui.NewAppView(dataModel, previewSrv),
		tea.WithAltScreen(),
	)

	// Pump inbound frames and connection status into the update loop.
	go func() {
		for frame := range client.Frames() {
			asm.HandleFrame(frame)
		}
	}()
	go func() {
		for change := range client.Status() {
			program.Send(model.TransportStatusMsg{Change: change})
		}
	}()

	if _, err := program.Run(); err != nil {
		fmt.Printf("Error running agtui: %v\n", err)
		os.Exit(1)
	}
}

// threadIDFromEnv resumes a specific thread when AGTUI_THREAD is set;
// otherwise a fresh thread id is generated per session.
func threadIDFromEnv() string {
	return os.Getenv("AGTUI_THREAD")
}
