package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type ConsoleConfig struct {
	APIBaseURL string
	Timeout    time.Duration
}

func main() {
	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		// LLM-backed decisions can take a while
		Timeout: 90 * time.Second,
	}

	api := NewAPIClient(cfg.APIBaseURL, &http.Client{Timeout: cfg.Timeout})
	ctx := context.Background()

	if !api.Healthy(ctx) {
		fmt.Fprintf(os.Stderr, "Could not connect to API. Please ensure the API is running.\nTry: docker-compose up -d\n")
		os.Exit(1)
	}

	characters, err := api.ListCharacters(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list characters: %v\n", err)
		os.Exit(1)
	}

	characterID := ""
	if len(characters) > 0 {
		fmt.Println("Available Characters:")
		for i, c := range characters {
			fmt.Printf("  %d - %s (%s)\n", i+1, c.Name, c.ID)
		}
		fmt.Print("\nSelect a character by number: ")

		var choice int
		if _, err := fmt.Scanf("%d", &choice); err != nil || choice < 1 || choice > len(characters) {
			fmt.Fprintf(os.Stderr, "Invalid selection\n")
			os.Exit(1)
		}
		characterID = characters[choice-1].ID
	}

	s, err := api.CreateSession(ctx, characterID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	events := make(chan SSEEvent, 16)
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// The stream is optional; the API serves it only when Redis events are wired.
		_ = api.listenToSSE(streamCtx, s.ID, events)
	}()

	p := tea.NewProgram(NewConsoleUI(api, s, events),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
