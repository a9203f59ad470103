package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/jarvis/internal/chat"
	"github.com/Veraticus/jarvis/internal/mocks"
)

const interval = 10 * time.Millisecond

func countFor(typing []string, channelID string) int {
	n := 0
	for _, c := range typing {
		if c == channelID {
			n++
		}
	}
	return n
}

func TestTypingIndicator_SendsImmediately(t *testing.T) {
	messenger := mocks.NewMockMessenger("bot")
	typing := chat.NewTypingIndicator(messenger, chat.WithTypingInterval(time.Hour))

	stop := typing.Start(context.Background(), "chan-1")
	defer stop()

	assert.Equal(t, []string{"chan-1"}, messenger.Typing())
	assert.Equal(t, 1, typing.Active())
}

func TestTypingIndicator_RefreshesUntilStopped(t *testing.T) {
	messenger := mocks.NewMockMessenger("bot")
	typing := chat.NewTypingIndicator(messenger, chat.WithTypingInterval(interval))

	stop := typing.Start(context.Background(), "chan-1")

	require.Eventually(t, func() bool {
		return countFor(messenger.Typing(), "chan-1") >= 3
	}, time.Second, interval)

	stop()
	assert.Zero(t, typing.Active())

	// Allow an in-flight tick to land, then make sure nothing follows.
	time.Sleep(3 * interval)
	after := len(messenger.Typing())
	time.Sleep(5 * interval)
	assert.Equal(t, after, len(messenger.Typing()))
}

func TestTypingIndicator_SharedPerChannel(t *testing.T) {
	messenger := mocks.NewMockMessenger("bot")
	typing := chat.NewTypingIndicator(messenger, chat.WithTypingInterval(time.Hour))

	stopFirst := typing.Start(context.Background(), "chan-1")
	stopSecond := typing.Start(context.Background(), "chan-1")
	stopOther := typing.Start(context.Background(), "chan-2")

	assert.Equal(t, 1, countFor(messenger.Typing(), "chan-1"), "second caller joins the running loop")
	assert.Equal(t, 2, typing.Active())

	stopFirst()
	stopFirst()
	assert.Equal(t, 2, typing.Active(), "loop survives while another caller still needs it")

	stopSecond()
	assert.Equal(t, 1, typing.Active())

	stopOther()
	assert.Zero(t, typing.Active())

	stopAgain := typing.Start(context.Background(), "chan-1")
	defer stopAgain()
	assert.Equal(t, 2, countFor(messenger.Typing(), "chan-1"))
}

func TestTypingIndicator_StopsWithContext(t *testing.T) {
	messenger := mocks.NewMockMessenger("bot")
	typing := chat.NewTypingIndicator(messenger, chat.WithTypingInterval(interval))

	ctx, cancel := context.WithCancel(context.Background())
	stop := typing.Start(ctx, "chan-1")
	defer stop()

	cancel()
	time.Sleep(3 * interval)
	after := len(messenger.Typing())
	time.Sleep(5 * interval)
	assert.Equal(t, after, len(messenger.Typing()))
}
