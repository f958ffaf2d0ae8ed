package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Notifier delivers fire-and-forget operational messages. Implementations
// must never let delivery failures reach the caller.
type Notifier interface {
	Send(text string)
	Sendf(format string, args ...any)
}

// Noop discards every message.
type Noop struct{}

func (Noop) Send(string)          {}
func (Noop) Sendf(string, ...any) {}

// Discord posts messages to a Discord webhook URL.
type Discord struct {
	url    string
	client *http.Client
}

// NewDiscord builds a Discord notifier. An empty URL yields a Noop-like
// notifier that logs locally instead.
func NewDiscord(url string) *Discord {
	return &Discord{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Send posts the message. Errors are logged and swallowed: notification
// must never affect trading outcomes.
func (d *Discord) Send(text string) {
	if d.url == "" {
		log.Printf("notify: %s", text)
		return
	}
	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		log.Printf("notify: marshal message: %v", err)
		return
	}
	resp, err := d.client.Post(d.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("notify: deliver message: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("notify: webhook returned %d", resp.StatusCode)
	}
}

func (d *Discord) Sendf(format string, args ...any) {
	d.Send(fmt.Sprintf(format, args...))
}
