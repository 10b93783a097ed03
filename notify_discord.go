package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	notifyQueueDepth    = 64
	notifyBatchWindow   = 5 * time.Second
	notifyMaxBatchLines = 10
)

// notifier ships operational events to a Discord channel. Optional: a nil
// notifier swallows everything. Sends are queued and batched so a chatty
// fleet can't stall the mining loop or trip rate limits.
type notifier struct {
	session   *discordgo.Session
	channelID string
	queue     chan string
	done      chan struct{}
}

func newNotifier(token, channelID string) *notifier {
	if token == "" || channelID == "" {
		return nil
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Warn("discord session init failed, notifications disabled", "error", err)
		return nil
	}
	n := &notifier{
		session:   session,
		channelID: channelID,
		queue:     make(chan string, notifyQueueDepth),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) run() {
	var batch []string
	timer := time.NewTimer(notifyBatchWindow)
	defer timer.Stop()
	flush := func() {
		if len(batch) == 0 {
			return
		}
		msg := "[" + softwareName + "] " + strings.Join(batch, "\n")
		if _, err := n.session.ChannelMessageSend(n.channelID, msg); err != nil {
			logger.Warn("discord notify failed", "error", err)
		}
		batch = batch[:0]
	}
	for {
		select {
		case line, ok := <-n.queue:
			if !ok {
				flush()
				close(n.done)
				return
			}
			batch = append(batch, line)
			if len(batch) >= notifyMaxBatchLines {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(notifyBatchWindow)
		}
	}
}

func (n *notifier) enqueue(line string) {
	if n == nil {
		return
	}
	select {
	case n.queue <- line:
	default:
		// Dropping a notification beats blocking the caller.
	}
}

func (n *notifier) Stop() {
	if n == nil {
		return
	}
	close(n.queue)
	<-n.done
	_ = n.session.Close()
}

func (n *notifier) solutionFound(item workItem) {
	kind := "solution"
	if item.Donation {
		kind = "donation solution"
	}
	n.enqueue(fmt.Sprintf("%s accepted for %s (challenge %s)", kind, shortAddress(item.Address), item.Challenge.ChallengeID))
}

func (n *notifier) workerReclaimed(workers []string) {
	n.enqueue(fmt.Sprintf("reclaimed %d stale assignment(s): %s", len(workers), strings.Join(workers, ", ")))
}

func (n *notifier) registryExhausted(workerID string) {
	n.enqueue(fmt.Sprintf("worker %s found the registry exhausted; more addresses needed", workerID))
}

func shortAddress(address string) string {
	if len(address) <= 16 {
		return address
	}
	return address[:12] + "..."
}
