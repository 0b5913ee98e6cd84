package mailboxclient

import (
	"context"
	"sync"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/skeinmail/mailbox/core/worker"
)

// ManagerConfig tunes the reconciliation loop's pacing.
type ManagerConfig struct {
	SuccessInterval time.Duration
	ErrorInterval   time.Duration
}

// DefaultManagerConfig matches the original mailbox manager's defaults
// (5s on success, 15s after any error).
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{SuccessInterval: 5 * time.Second, ErrorInterval: 15 * time.Second}
}

// subscriberBuffer is the size of the channel returned by Subscribe,
// matching map/client/stream.go's channel sizing convention for client-side
// delivery queues.
const subscriberBuffer = 100

// Manager reconciles every subscribed topic against a round-robin list of
// registered mailboxes, on an interval that shortens after success and
// lengthens after any error.
type Manager struct {
	worker.Worker

	log    *logging.Logger
	store  OpStore
	config ManagerConfig

	mu         sync.Mutex
	mailboxes  []Mailbox
	nextIndex  int
	topics     map[TopicID]chan MailboxOperation
	triggerCh  chan struct{}
}

// Spawn constructs a Manager and starts its reconciliation loop.
func Spawn(store OpStore, config ManagerConfig, log *logging.Logger) *Manager {
	m := &Manager{
		log:       log,
		store:     store,
		config:    config,
		topics:    make(map[TopicID]chan MailboxOperation),
		triggerCh: make(chan struct{}, 1),
	}
	m.Go(m.run)
	return m
}

// Add registers a mailbox to the round-robin list.
func (m *Manager) Add(mb Mailbox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mailboxes = append(m.mailboxes, mb)
}

// Clear removes every registered mailbox.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mailboxes = nil
	m.nextIndex = 0
}

// Subscribe registers interest in topic and returns a channel that receives
// every operation the manager fetches for it. The channel is bounded: a
// slow reader applies backpressure to the reconciliation loop rather than
// losing operations.
func (m *Manager) Subscribe(topic TopicID) (<-chan MailboxOperation, error) {
	m.log.Infof("subscribing to topic %s", topic)
	ch := make(chan MailboxOperation, subscriberBuffer)
	m.mu.Lock()
	m.topics[topic] = ch
	m.mu.Unlock()
	return ch, nil
}

// Unsubscribe removes a topic subscription.
func (m *Manager) Unsubscribe(topic TopicID) {
	m.log.Infof("unsubscribing from topic %s", topic)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.topics, topic)
}

// TriggerSync asks the reconciliation loop to run immediately instead of
// waiting out its current interval.
func (m *Manager) TriggerSync() {
	select {
	case m.triggerCh <- struct{}{}:
	default:
	}
}

func (m *Manager) subscribedTopics() []TopicID {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]TopicID, 0, len(m.topics))
	for t := range m.topics {
		topics = append(topics, t)
	}
	return topics
}

func (m *Manager) subscriberFor(topic TopicID) (chan MailboxOperation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.topics[topic]
	return ch, ok
}

// nextMailbox advances the round-robin cursor and returns the mailbox at
// the new position, persisting the cursor across calls the way the
// original's one_iteration(mailbox_index) threads its index through
// successive loop iterations.
func (m *Manager) nextMailbox() (Mailbox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.mailboxes) == 0 {
		return nil, false
	}
	m.nextIndex++
	if m.nextIndex >= len(m.mailboxes) {
		m.nextIndex = 0
	}
	return m.mailboxes[m.nextIndex], true
}

func (m *Manager) run() {
	interval := time.Duration(0)
	for {
		select {
		case <-m.HaltCh():
			m.log.Debug("mailbox manager halting")
			return
		case <-time.After(interval):
		case <-m.triggerCh:
		}
		interval = m.oneIteration()
	}
}

func (m *Manager) oneIteration() time.Duration {
	mailbox, ok := m.nextMailbox()
	if !ok {
		m.log.Warning("empty mailbox list, no mailbox to fetch from")
		return m.config.ErrorInterval
	}

	topics := m.subscribedTopics()
	if len(topics) == 0 {
		m.log.Warning("no topics subscribed, nothing to fetch this interval")
		return m.config.ErrorInterval
	}

	ctx := context.Background()

	if err := m.syncTopics(ctx, topics, mailbox); err != nil {
		m.log.Errorf("mailbox sync: %s", err)
		return m.config.ErrorInterval
	}
	return m.config.SuccessInterval
}

// syncTopics fetches every topic in one request, forwards received items
// to their subscribers, and republishes whatever the mailbox reports
// missing, in one batched publish call.
func (m *Manager) syncTopics(ctx context.Context, topics []TopicID, mailbox Mailbox) error {
	req := FetchRequest{Topics: make(map[TopicID]map[AuthorID]uint64, len(topics))}
	for _, topic := range topics {
		heights, err := m.store.GetLogHeights(ctx, topic)
		if err != nil {
			return err
		}
		byAuthor := make(map[AuthorID]uint64, len(heights))
		for _, h := range heights {
			byAuthor[h.Author] = h.Height
		}
		req.Topics[topic] = byAuthor
	}

	resp, err := mailbox.Fetch(ctx, req)
	if err != nil {
		return err
	}

	var toPublish []MailboxOperation
	for topic, topicResp := range resp.Topics {
		m.log.Infof("fetched %d operations, %d missing authors for topic %s", len(topicResp.Items), len(topicResp.Missing), topic)

		sub, ok := m.subscriberFor(topic)
		if !ok {
			m.log.Warningf("no subscriber for topic %s", topic)
		} else {
			for _, op := range topicResp.Items {
				sub <- op
			}
		}

		for author, seqs := range topicResp.Missing {
			if len(seqs) == 0 {
				continue
			}
			lowest := seqs[0]
			for _, s := range seqs[1:] {
				if s < lowest {
					lowest = s
				}
			}

			log, ok, err := m.store.GetLog(ctx, author, topic, &lowest)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			// log holds every op from `lowest` onward, in order, so index
			// seq-lowest finds the op for sequence seq without another scan.
			byIndex := make(map[uint64]MailboxOperation, len(log))
			for i, op := range log {
				byIndex[lowest+uint64(i)] = op
			}
			for _, seq := range seqs {
				if op, ok := byIndex[seq]; ok {
					toPublish = append(toPublish, op)
				}
			}
		}
	}

	return mailbox.Publish(ctx, toPublish)
}
