package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/themis-pm/collab-relay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws/chat", "chat WebSocket address")
	user := flag.String("user", "tester", "user id to connect as")
	token := flag.String("token", "", "JWT issued to user, when the relay checks tokens")
	room := flag.String("room", "general", "room id")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	q := url.Values{"userId": {*user}}
	if *token != "" {
		q.Set("token", *token)
	}
	conn, _, err := websocket.Dial(ctx, *addr+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	mustSend := func(v interface{}) error {
		if err := wsjson.Write(ctx, conn, v); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	}

	if err := mustSend(map[string]any{"type": proto.ChatTypeJoin, "roomId": *room}); err != nil {
		return err
	}
	if err := mustSend(map[string]any{"type": proto.ChatTypeMessage, "roomId": *room, "content": *text}); err != nil {
		return err
	}

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("unmarshal frame: %w", err)
		}
		fmt.Printf("Received: type=%s\n", head.Type)

		switch head.Type {
		case proto.ChatTypeMessage:
			var msg proto.ChatMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				fmt.Printf("Raw data: %s\n", string(raw))
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("Message: id=%s room=%s user=%s content=%q at=%s\n",
				msg.ID, msg.RoomID, msg.UserID, msg.Content, msg.CreatedAt.Format(time.RFC3339))
			return nil
		case proto.TypeError:
			var e proto.Error
			_ = json.Unmarshal(raw, &e)
			return fmt.Errorf("relay error: %s", e.Message)
		case proto.ChatTypeUserJoined, proto.ChatTypeUserLeft:
			var evt proto.UserPresence
			if err := json.Unmarshal(raw, &evt); err == nil {
				fmt.Printf("Presence: %s room=%s user=%s\n", evt.Type, evt.RoomID, evt.UserID)
			}
		default:
			// keep looping for message
		}
	}
}
