package decision

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgrissen2/plannotator-ext/internal/model"
)

func TestBroker_ApproveThenWait(t *testing.T) {
	b := New()
	require.True(t, b.Approve("codex"))

	got, err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Approved)
	assert.Equal(t, model.ApprovedFeedback, got.Feedback)
	assert.Equal(t, "codex", got.AgentSwitch)
}

func TestBroker_WaitBlocksUntilResolved(t *testing.T) {
	b := New()
	result := make(chan model.Decision, 1)

	go func() {
		d, err := b.Wait(context.Background())
		if err == nil {
			result <- d
		}
	}()

	select {
	case <-result:
		t.Fatal("Wait returned before the broker was settled")
	case <-time.After(20 * time.Millisecond):
	}

	b.Feedback("tighten step 2", nil, "", model.LinkedDocs{})

	select {
	case d := <-result:
		assert.False(t, d.Approved)
		assert.Contains(t, d.Feedback, "tighten step 2")
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestBroker_SecondFulfillmentIgnored(t *testing.T) {
	b := New()
	annotations := []json.RawMessage{json.RawMessage(`{"id":1}`)}

	require.True(t, b.Feedback("first", annotations, "", model.LinkedDocs{}))
	assert.False(t, b.Approve(""))
	assert.False(t, b.Feedback("second", nil, "", model.LinkedDocs{}))

	got, err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Approved)
	assert.Contains(t, got.Feedback, "first")
	assert.NotContains(t, got.Feedback, "second")
	assert.Len(t, got.Annotations, 1)
}

func TestBroker_ConcurrentFulfillmentSingleWinner(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	wins := make(chan int, 50)

	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Approve(string(rune('a' + i%26))) {
				wins <- i
			}
		}()
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
	d, ok := b.Peek()
	require.True(t, ok)
	assert.True(t, d.Approved)
}

func TestBroker_WaitHonoursContext(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, b.Settled())
}

func TestBroker_Done(t *testing.T) {
	b := New()
	select {
	case <-b.Done():
		t.Fatal("Done closed before settlement")
	default:
	}

	b.Approve("")
	select {
	case <-b.Done():
	default:
		t.Fatal("Done not closed after settlement")
	}
	assert.True(t, b.Settled())
}

func TestComposeFeedback(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		got := ComposeFeedback("Please split phase 2.\n", model.LinkedDocs{})
		assert.Equal(t, "Please split phase 2.\n\n---\n"+ChangesRequestedMarker, got)
	})

	t.Run("linked documents", func(t *testing.T) {
		got := ComposeFeedback("See notes.", model.LinkedDocs{
			Viewed:    []string{"docs/arch.md"},
			Requested: []string{"docs/migration.md"},
		})
		assert.Contains(t, got, "## Linked Documents")
		assert.Contains(t, got, "### Viewed\n- docs/arch.md\n")
		assert.Contains(t, got, "### Requested\n- docs/migration.md\n")
		assert.Contains(t, got, requestInstruction("docs/migration.md"))
		assert.True(t, strings.HasPrefix(got, "See notes.\n\n"))
		assert.True(t, strings.HasSuffix(got, ChangesRequestedMarker))
	})

	t.Run("viewed only has no instructions", func(t *testing.T) {
		got := ComposeFeedback("ok", model.LinkedDocs{Viewed: []string{"a.md"}})
		assert.NotContains(t, got, "### Requested")
		assert.NotContains(t, got, "Read it and address it")
	})

	t.Run("empty body", func(t *testing.T) {
		assert.Equal(t, "---\n"+ChangesRequestedMarker, ComposeFeedback("", model.LinkedDocs{}))
		assert.Equal(t, "---\n"+ChangesRequestedMarker, ComposeFeedback("\n\n", model.LinkedDocs{}))
	})

	t.Run("empty body with linked documents", func(t *testing.T) {
		got := ComposeFeedback("", model.LinkedDocs{Viewed: []string{"a.md"}})
		assert.Equal(t, "## Linked Documents\n\n### Viewed\n- a.md\n\n---\n"+ChangesRequestedMarker, got)
	})
}
