package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/blockcraft/internal/eventbus"
	"github.com/annel0/blockcraft/internal/protocol"
)

const (
	defaultNatsURL    = "nats://127.0.0.1:4222"
	defaultServerAddr = "127.0.0.1:25565"
	timeFormat        = "15:04:05"
)

func main() {
	var (
		command    = flag.String("cmd", "tail", "Command: tail, types, ping")
		natsURL    = flag.String("nats", defaultNatsURL, "NATS server URL")
		stream     = flag.String("stream", "", "JetStream stream name (default BLOCKCRAFT)")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		limit      = flag.Int("limit", 0, "Stop after N events (0 = follow)")
		serverAddr = flag.String("server", defaultServerAddr, "Game server address for ping")
		timeout    = flag.Duration("timeout", 5*time.Second, "Ping timeout")
	)
	flag.Parse()

	switch *command {
	case "tail":
		if err := tailEvents(&TailOptions{
			URL:        *natsURL,
			Stream:     *stream,
			EventTypes: parseStringList(*eventTypes),
			Limit:      *limit,
		}); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "types":
		showTypes()

	case "ping":
		if err := pingServer(*serverAddr, *timeout); err != nil {
			log.Fatalf("❌ Ping failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, types, ping")
		os.Exit(1)
	}
}

type TailOptions struct {
	URL        string
	Stream     string
	EventTypes []string
	Limit      int
}

// tailEvents выводит новые события из JetStream до Ctrl+C или лимита
func tailEvents(opts *TailOptions) error {
	bus, err := eventbus.NewJetStreamBus(opts.URL, opts.Stream, 0)
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := make(chan *eventbus.Envelope, 64)
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: opts.EventTypes}, func(_ context.Context, ev *eventbus.Envelope) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	fmt.Printf("🎬 Tailing events from %s (limit: %d)\n", opts.URL, opts.Limit)

	eventCount := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n📊 Total events: %d\n", eventCount)
			return nil
		case ev := <-events:
			printEvent(ev)
			eventCount++
			if opts.Limit > 0 && eventCount >= opts.Limit {
				fmt.Printf("\n📊 Total events: %d\n", eventCount)
				return nil
			}
		}
	}
}

// showTypes выводит типы событий, которые публикует сервер
func showTypes() {
	fmt.Println("📋 Available event types")
	for _, t := range []struct{ name, description string }{
		{eventbus.TypePlayerJoin, "игрок вошел в мир"},
		{eventbus.TypePlayerQuit, "игрок вышел, reason содержит причину"},
		{eventbus.TypeBlockBreak, "игрок сломал блок"},
		{eventbus.TypeChatMessage, "сообщение чата"},
	} {
		fmt.Printf("  %-14s %s\n", t.name, t.description)
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n",
		ev.Timestamp.Local().Format(timeFormat),
		ev.Source,
		ev.EventType,
		ev.ID)

	var payload map[string]interface{}
	if err := ev.Decode(&payload); err != nil {
		fmt.Printf("  payload: %s\n", string(ev.Payload))
		return
	}
	switch ev.EventType {
	case eventbus.TypeBlockBreak:
		fmt.Printf("  Block: %v (%v,%v,%v) Player: %v\n",
			payload["block"], payload["x"], payload["y"], payload["z"], payload["player"])
	case eventbus.TypeChatMessage:
		fmt.Printf("  <%v> %v\n", payload["player"], payload["message"])
	case eventbus.TypePlayerJoin, eventbus.TypePlayerQuit:
		fmt.Printf("  Player: %v (%v) %v\n", payload["name"], payload["uuid"], payload["reason"])
	}
}

// pingServer выполняет status запрос к игровому серверу
func pingServer(addr string, timeout time.Duration) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	var port uint16
	if _, err := fmt.Sscan(portStr, &port); err != nil {
		return fmt.Errorf("port %q: %w", portStr, err)
	}

	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	conn := protocol.NewConn(nc, timeout, timeout)
	defer conn.Close()

	if err := conn.WritePacket(&protocol.Handshake{ProtocolVersion: 5, Address: host, Port: port, NextState: 1}); err != nil {
		return err
	}
	if err := conn.WritePacket(&protocol.StatusRequest{}); err != nil {
		return err
	}
	var resp protocol.StatusResponse
	if err := readClientbound(conn, &resp); err != nil {
		return fmt.Errorf("status response: %w", err)
	}

	var doc protocol.StatusDocument
	if err := json.Unmarshal([]byte(resp.JSON), &doc); err != nil {
		return fmt.Errorf("status json: %w", err)
	}

	sent := time.Now()
	if err := conn.WritePacket(&protocol.StatusPing{Time: sent.UnixMilli()}); err != nil {
		return err
	}
	var pong protocol.StatusPong
	if err := readClientbound(conn, &pong); err != nil {
		return fmt.Errorf("pong: %w", err)
	}

	fmt.Printf("🎮 %s (%s, protocol %d)\n", doc.Description.Text, doc.Version.Name, doc.Version.Protocol)
	fmt.Printf("👥 %d/%d players\n", doc.Players.Online, doc.Players.Max)
	for _, s := range doc.Players.Sample {
		fmt.Printf("   %s %s\n", s.Name, s.ID)
	}
	fmt.Printf("⏱  %v\n", time.Since(sent).Round(time.Millisecond))
	return nil
}

// readClientbound читает пакет сервера. Таблицы registry описывают только
// пакеты клиента, поэтому ответ разбирается в ожидаемый тип напрямую.
func readClientbound(conn *protocol.Conn, p protocol.Packet) error {
	payload, err := conn.ReadFrame()
	if err != nil {
		return err
	}
	r := protocol.NewReader(payload)
	id, err := r.ReadVarInt()
	if err != nil {
		return err
	}
	if id != p.ID() {
		return fmt.Errorf("unexpected packet 0x%02X, want 0x%02X", id, p.ID())
	}
	return p.Load(r)
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
