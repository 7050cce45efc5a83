// Package main provides a load and smoke test client for the realtime websocket.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"relay/internal/middleware"

	"github.com/gorilla/websocket"
)

// Metrics tracks the test results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	MessagesReceived     int64
	Errors               int64
}

var metrics Metrics

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	tokens := flag.String("tokens", "", "Comma-separated bearer tokens, one per simulated user")
	secret := flag.String("secret", "", "JWT secret used to mint tokens when -tokens is empty")
	userIDs := flag.String("users", "1,2", "Comma-separated user ids to mint tokens for")
	chatID := flag.Uint("chat", 1, "Chat every client joins and writes to")
	clients := flag.Int("clients", 10, "Number of concurrent clients")
	interval := flag.Duration("interval", 5*time.Second, "Delay between messages per client")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	flag.Parse()

	pool, err := tokenPool(*tokens, *secret, *userIDs)
	if err != nil {
		log.Fatalf("No tokens: %v", err)
	}

	log.Printf("Target: %s, clients: %d, chat: %d, duration: %v", *host, *clients, *chatID, *duration)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go runClient(*host, pool[i%len(pool)], i, uint(*chatID), *interval, stopChan, &wg)
		time.Sleep(50 * time.Millisecond) // stagger ticket issuance
	}

	select {
	case <-time.After(*duration):
		log.Println("Test duration reached")
	case <-interrupt:
		log.Println("Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func tokenPool(tokens, secret, userIDs string) ([]string, error) {
	var pool []string
	for _, t := range strings.Split(tokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			pool = append(pool, t)
		}
	}
	if len(pool) > 0 {
		return pool, nil
	}
	if secret == "" {
		return nil, fmt.Errorf("either -tokens or -secret is required")
	}
	for _, raw := range strings.Split(userIDs, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q: %w", raw, err)
		}
		tok, err := middleware.IssueToken(secret, uint(id), time.Hour)
		if err != nil {
			return nil, err
		}
		pool = append(pool, tok)
	}
	return pool, nil
}

func getTicket(host, token string) (string, error) {
	ticketURL := fmt.Sprintf("http://%s/api/ws/ticket", host)
	req, _ := http.NewRequest(http.MethodPost, ticketURL, nil)
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket issuance failed with status %d", resp.StatusCode)
	}

	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

// dialURL prefers a ticket and falls back to the bearer token when tickets are unavailable.
func dialURL(host, token string) url.URL {
	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws"}
	if ticket, err := getTicket(host, token); err == nil {
		u.RawQuery = "ticket=" + url.QueryEscape(ticket)
	} else {
		u.RawQuery = "token=" + url.QueryEscape(token)
	}
	return u
}

func send(c *websocket.Conn, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(frame{Type: eventType, Payload: raw})
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, msg)
}

func runClient(host, token string, id int, chatID uint, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	u := dialURL(host, token)
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

	go func() {
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(raw, &f) == nil && f.Type == "error" {
				atomic.AddInt64(&metrics.Errors, 1)
			}
			atomic.AddInt64(&metrics.MessagesReceived, 1)
		}
	}()

	if err := send(c, "join-chat", chatID); err != nil {
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = send(c, "typing-start", chatID)
			err := send(c, "new-message", map[string]any{
				"chatId":      chatID,
				"content":     fmt.Sprintf("Load test message from client %d", id),
				"messageType": "text",
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
	log.Println("Test Results")
	log.Println("============")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages Sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Messages Received: %d", atomic.LoadInt64(&metrics.MessagesReceived))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
