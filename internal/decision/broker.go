// Package decision provides the one-shot handoff between the HTTP handlers
// that receive a reviewer's verdict and the command waiting on it.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dgrissen2/plannotator-ext/internal/model"
)

// ChangesRequestedMarker closes every feedback message.
const ChangesRequestedMarker = "Changes requested. Please revise and run the review again."

// Broker is settled at most once. The first Resolve wins; later calls are
// ignored and report false.
type Broker struct {
	mu       sync.Mutex
	settled  bool
	decision model.Decision
	done     chan struct{}
}

// New returns an unsettled broker.
func New() *Broker {
	return &Broker{done: make(chan struct{})}
}

// Resolve settles the broker with d. It returns false when the broker had
// already been settled, in which case d is discarded.
func (b *Broker) Resolve(d model.Decision) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.settled {
		return false
	}
	b.settled = true
	b.decision = d
	close(b.done)
	return true
}

// Approve settles the broker as approved.
func (b *Broker) Approve(agentSwitch string) bool {
	return b.Resolve(model.Decision{
		Approved:    true,
		Feedback:    model.ApprovedFeedback,
		AgentSwitch: agentSwitch,
	})
}

// Feedback settles the broker as changes requested. The delivered feedback
// is raw extended with the linked document sections and the status marker.
func (b *Broker) Feedback(raw string, annotations []json.RawMessage, agentSwitch string, linked model.LinkedDocs) bool {
	return b.Resolve(model.Decision{
		Approved:    false,
		Feedback:    ComposeFeedback(raw, linked),
		Annotations: annotations,
		AgentSwitch: agentSwitch,
	})
}

// Wait blocks until the broker is settled or ctx is done.
func (b *Broker) Wait(ctx context.Context) (model.Decision, error) {
	select {
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.decision, nil
	case <-ctx.Done():
		return model.Decision{}, ctx.Err()
	}
}

// Done is closed once the broker is settled.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// Settled reports whether a decision has been recorded.
func (b *Broker) Settled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settled
}

// Peek returns the recorded decision, if any, without waiting.
func (b *Broker) Peek() (model.Decision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decision, b.settled
}

// ComposeFeedback appends the linked document sections and the
// changes-requested marker to the reviewer's text.
func ComposeFeedback(raw string, linked model.LinkedDocs) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(raw, "\n"))

	if !linked.Empty() {
		sb.WriteString("\n\n## Linked Documents\n")
		if len(linked.Viewed) > 0 {
			sb.WriteString("\n### Viewed\n")
			for _, p := range linked.Viewed {
				fmt.Fprintf(&sb, "- %s\n", p)
			}
		}
		if len(linked.Requested) > 0 {
			sb.WriteString("\n### Requested\n")
			for _, p := range linked.Requested {
				fmt.Fprintf(&sb, "- %s\n", p)
			}
			sb.WriteString("\n")
			for _, p := range linked.Requested {
				sb.WriteString(requestInstruction(p))
				sb.WriteString("\n")
			}
		}
	}

	body := strings.TrimLeft(strings.TrimRight(sb.String(), "\n"), "\n")
	if body == "" {
		return "---\n" + ChangesRequestedMarker
	}
	return body + "\n\n---\n" + ChangesRequestedMarker
}

func requestInstruction(path string) string {
	return fmt.Sprintf("The reviewer asked for %s to be created or updated. Read it and address it before resubmitting.", path)
}
