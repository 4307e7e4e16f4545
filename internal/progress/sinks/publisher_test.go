package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/progress"
	"github.com/JakeFAU/frontier-crawler/internal/publisher/memory"
)

func TestPublisherSinkForwardsLifecycle(t *testing.T) {
	t.Parallel()

	pub := memory.New(0)
	sink := NewPublisherSink(pub, "crawls")
	id := uuid.New()
	now := time.Now().UTC()

	batch := []progress.Event{
		{CrawlID: progress.UUIDToBytes(id), TS: now, Stage: progress.StageCrawlStart},
		{CrawlID: progress.UUIDToBytes(id), TS: now, Stage: progress.StageFetchDone, URL: "https://a.test/"},
		{CrawlID: progress.UUIDToBytes(id), TS: now, Stage: progress.StageCrawlDone, Dur: 2 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawls", msgs[0].Topic)
	done, ok := msgs[1].Payload.(LifecycleMessage)
	require.True(t, ok)
	require.Equal(t, id.String(), done.CrawlID)
	require.Equal(t, "CRAWL_DONE", done.Stage)
	require.EqualValues(t, 2000, done.DurMillis)
}
