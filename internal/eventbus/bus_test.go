package eventbus

import (
	"io"
	"log/slog"
	"testing"

	"arb-engine/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	t.Parallel()
	b := New(testLogger())

	ch1, unsub1 := b.SubscribeOpportunities()
	defer unsub1()
	ch2, unsub2 := b.SubscribeOpportunities()
	defer unsub2()

	b.PublishOpportunity(types.ArbitrageOpportunity{ID: "opp-1"})

	for i, ch := range []<-chan types.ArbitrageOpportunity{ch1, ch2} {
		select {
		case o := <-ch:
			if o.ID != "opp-1" {
				t.Errorf("subscriber %d: got %q, want opp-1", i, o.ID)
			}
		default:
			t.Errorf("subscriber %d: no event delivered", i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New(testLogger())

	ch, unsub := b.SubscribeExecutions()
	unsub()

	// Publish after unsubscribe must not panic or deliver.
	b.PublishExecution(types.ExecutionResult{OpportunityID: "opp-1"})

	if _, ok := <-ch; ok {
		t.Error("closed subscriber channel should not deliver events")
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	t.Parallel()
	b := New(testLogger())

	_, unsub := b.SubscribeOpportunities()
	defer unsub()

	// Overfill the subscriber's buffer; every publish must return.
	for i := 0; i < subscriberBuffer*2; i++ {
		b.PublishOpportunity(types.ArbitrageOpportunity{ID: "opp"})
	}
}
