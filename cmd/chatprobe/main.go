// Package main provides a load probe for the chat gateway. Each client signs
// its own token, logs in, and posts to one conversation on a ticker.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"huddle/internal/middleware"

	"github.com/gorilla/websocket"
)

// Metrics tracks the probe results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	MessagesReceived     int64
	NewMessages          int64
	ErrorEvents          int64
	Errors               int64
}

var metrics Metrics

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	host := flag.String("host", "localhost:8375", "Gateway host")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT secret used to sign probe tokens")
	usersFlag := flag.String("users", "1,2", "Comma separated user ids to connect as")
	conversation := flag.Uint("conversation", 1, "Conversation to post into")
	perUser := flag.Int("sessions", 1, "Sessions per user")
	interval := flag.Duration("interval", 2*time.Second, "Delay between messages per session")
	duration := flag.Duration("duration", 30*time.Second, "Probe duration")
	flag.Parse()

	if *secret == "" {
		log.Fatal("❌ -secret or JWT_SECRET is required")
	}
	userIDs, err := parseIDs(*usersFlag)
	if err != nil {
		log.Fatalf("❌ Invalid -users: %v", err)
	}

	log.Printf("🚀 Starting chat probe")
	log.Printf("Target: %s, users: %v x %d sessions, duration: %v", *host, userIDs, *perUser, *duration)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for _, userID := range userIDs {
		token, err := middleware.SignUserToken(*secret, userID, *duration+time.Minute)
		if err != nil {
			log.Fatalf("❌ Signing token for user %d failed: %v", userID, err)
		}
		for i := 0; i < *perUser; i++ {
			wg.Add(1)
			go runClient(*host, token, userID, uint(*conversation), *interval, stopChan, &wg)
			time.Sleep(50 * time.Millisecond)
		}
	}

	select {
	case <-time.After(*duration):
		log.Println("⏱️  Probe duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func parseIDs(raw string) ([]uint, error) {
	var out []uint
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint(id))
	}
	return out, nil
}

func send(c *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(frame{Event: event, Data: raw})
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, msg)
}

func runClient(host, token string, userID, convID uint, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	u := url.URL{Scheme: "ws", Host: host, Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	// Read loop
	go func() {
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			atomic.AddInt64(&metrics.MessagesReceived, 1)

			var f frame
			if json.Unmarshal(raw, &f) != nil {
				continue
			}
			switch f.Event {
			case "newMessage":
				atomic.AddInt64(&metrics.NewMessages, 1)
			case "error":
				atomic.AddInt64(&metrics.ErrorEvents, 1)
				log.Printf("user %d: %s", userID, f.Data)
			}
		}
	}()

	if err := send(c, "login", map[string]uint{"userId": userID}); err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-stopChan:
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			seq++
			err := send(c, "sendMessage", map[string]any{
				"conversationId": convID,
				"content":        "probe " + strconv.Itoa(int(userID)) + "/" + strconv.Itoa(seq),
			})
			if err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				return
			}
			atomic.AddInt64(&metrics.MessagesSent, 1)
		}
	}
}

func printMetrics() {
	log.Println("\n📊 Probe Results")
	log.Println("================")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages Sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Frames Received: %d", atomic.LoadInt64(&metrics.MessagesReceived))
	log.Printf("newMessage Events: %d", atomic.LoadInt64(&metrics.NewMessages))
	log.Printf("error Events: %d", atomic.LoadInt64(&metrics.ErrorEvents))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
