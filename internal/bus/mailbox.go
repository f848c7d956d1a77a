package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Message is one broadcast entry in an agent's mailbox.
type Message struct {
	WorkflowID string         `json:"workflow_id"`
	From       string         `json:"from"`
	Subject    string         `json:"subject"`
	Payload    map[string]any `json:"payload,omitempty"`
	SentAt     time.Time      `json:"sent_at"`
}

// Mailboxes holds a FIFO message queue per agent. Broadcasts are also
// mirrored onto NATS so external observers (the web event hub) can
// watch collaboration traffic; the queues themselves are in-memory and
// owned by this process.
type Mailboxes struct {
	mu     sync.Mutex
	queues map[string][]Message
	client *Client
}

// NewMailboxes creates an empty mailbox set. A nil client disables the
// NATS mirror.
func NewMailboxes(client *Client) *Mailboxes {
	return &Mailboxes{
		queues: make(map[string][]Message),
		client: client,
	}
}

// Publish appends the message to every participant's mailbox except the
// originating agent's.
func (m *Mailboxes) Publish(participants []string, msg Message) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	m.mu.Lock()
	for _, name := range participants {
		if name == msg.From {
			continue
		}
		m.queues[name] = append(m.queues[name], msg)
	}
	m.mu.Unlock()

	if m.client != nil {
		for _, name := range participants {
			if name == msg.From {
				continue
			}
			if err := m.client.PublishJSON(TopicAgentMailbox(name), msg); err != nil {
				slog.Debug("mailbox mirror publish failed", "agent", name, "error", err)
			}
		}
	}
}

// Drain consumes and clears an agent's mailbox, returning messages in
// the order they were published. A second drain without intervening
// publishes returns nothing.
func (m *Mailboxes) Drain(agentName string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.queues[agentName]
	delete(m.queues, agentName)
	return msgs
}

// Pending reports how many messages wait in an agent's mailbox.
func (m *Mailboxes) Pending(agentName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[agentName])
}
