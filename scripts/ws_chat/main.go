package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/themis-pm/collab-relay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws/chat", "chat WebSocket address")
	user := flag.String("user", "cli-user", "user id")
	room := flag.String("room", "general", "room to join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?"+url.Values{"userId": {*user}}.Encode(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, conn, map[string]any{"type": proto.ChatTypeJoin, "roomId": *room}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	fmt.Printf("Connected to %s as %s in room %s\n", *addr, *user, *room)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *room)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			log.Printf("unmarshal frame: %v", err)
			continue
		}

		switch head.Type {
		case proto.ChatTypeMessage:
			var msg proto.ChatMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			fmt.Printf("[%s] %s: %s\n", msg.RoomID, msg.UserID, msg.Content)
		case proto.ChatTypeUserJoined, proto.ChatTypeUserLeft:
			var evt proto.UserPresence
			if err := json.Unmarshal(raw, &evt); err != nil {
				log.Printf("unmarshal presence: %v", err)
				continue
			}
			verb := "joined"
			if evt.Type == proto.ChatTypeUserLeft {
				verb = "left"
			}
			fmt.Printf("[room %s] %s %s\n", evt.RoomID, evt.UserID, verb)
		case proto.ChatTypeTyping:
			var evt proto.TypingEvent
			if err := json.Unmarshal(raw, &evt); err == nil && evt.IsTyping {
				fmt.Printf("[room %s] %s is typing...\n", evt.RoomID, evt.UserID)
			}
		case proto.TypeError:
			var e proto.Error
			_ = json.Unmarshal(raw, &e)
			fmt.Printf("error: %s\n", e.Message)
		default:
			fmt.Printf("frame: %s\n", string(raw))
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, room string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			msg := map[string]any{"type": proto.ChatTypeMessage, "roomId": room, "content": text}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
