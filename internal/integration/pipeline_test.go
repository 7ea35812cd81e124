//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/humanitarian-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/humanitarian-data-etl/internal/config"
	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
	"github.com/couchcryptid/humanitarian-data-etl/internal/pipeline"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source/iomdtm"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source/sourcetest"
	"github.com/couchcryptid/humanitarian-data-etl/internal/store/postgres"
)

const testSinkTopic = "test-observations"

const dtmRounds = `{
  "isSuccess": true,
  "result": [
    {"reportingDate": "2024-03-10T00:00:00", "admin1Name": "North Darfur", "admin2Name": "Al Fasher", "admin2Pcode": "SD02001", "numPresentIdpInd": 1200, "displacementReason": "Conflict"},
    {"reportingDate": "2024-03-10T00:00:00", "admin1Name": "Kassala", "admin2Name": "Wad Elhilaiw", "admin2Pcode": "SD11009", "numPresentIdpInd": 50},
    {"reportingDate": "2024-03-03T00:00:00", "admin1Name": "Khartoum", "admin2Name": "Bahri", "admin2Pcode": "SD01001", "numPresentIdpInd": 80}
  ]
}`

type publishedMessage struct {
	Observation domain.Observation
	Key         string
	Headers     map[string]string
}

func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var o domain.Observation
	require.NoError(t, json.Unmarshal(msg.Value, &o))
	return publishedMessage{Observation: o, Key: string(msg.Key), Headers: headers}
}

// TestPipelineEndToEnd runs the IOM DTM adapter against a fake provider and
// stores into PostgreSQL while publishing to Kafka.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)
	dsn := startPostgres(ctx, t)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(dtmRounds))
	}))
	t.Cleanup(provider.Close)

	env := sourcetest.New(t)
	store, err := postgres.Open(ctx, dsn, env.Clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	deps := env.Deps
	deps.Unmatched = store
	o := pipeline.New(pipeline.Config{
		Adapters:  []source.Adapter{iomdtm.New(iomdtm.Config{BaseURL: provider.URL, APIKey: "test-key"}, deps)},
		Store:     store,
		Publisher: writer,
		Raw:       env.Raw,
		Clock:     env.Clock,
		Logger:    discardLogger(),
		Metrics:   env.Metrics,
	})

	report, err := o.Run(ctx)
	require.NoError(t, err)
	u, ok := report.Unit(iomdtm.Name, iomdtm.Displacement)
	require.True(t, ok)
	require.Equal(t, pipeline.StatusOK, u.Status, u.Error)
	assert.Equal(t, 3, u.Saved)

	count, err := store.Count(ctx, iomdtm.Name)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	latest, ok, err := store.LatestEndDate(ctx, iomdtm.Name, iomdtm.Displacement)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-03-10", latest.Format(domain.DateLayout))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	byLocation := map[string]publishedMessage{}
	for range 3 {
		pm := readPublished(ctx, t, consumer)
		byLocation[pm.Observation.Location.ID] = pm

		assert.Equal(t, iomdtm.Name, pm.Headers["source"])
		assert.Equal(t, iomdtm.Displacement, pm.Headers["variable_code"])
		_, err := time.Parse(time.RFC3339, pm.Headers["processed_at"])
		assert.NoError(t, err, "processed_at should be RFC3339")
		assert.Equal(t, kafka.MessageKey(pm.Observation), pm.Key)
	}

	require.Contains(t, byLocation, "SD02001")
	assert.InDelta(t, 1200, byLocation["SD02001"].Observation.Value, 0)
	require.Contains(t, byLocation, "SD11", "unknown pcode falls back to the admin1 name")
	require.Contains(t, byLocation, "SD01001")

	// Re-processing the stored artifact upserts in place.
	_, err = o.ProcessLatest(ctx)
	require.NoError(t, err)
	count, err = store.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
