package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/humanitarian-data-etl/internal/config"
	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	day := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)
	o := domain.Observation{
		SourceRecordID: "idu-101",
		Source:         "IDMC IDU",
		VariableCode:   "idmc_idu_conflict_displacements",
		Location:       domain.Location{ID: "SD02", Name: "North Darfur", AdminLevel: domain.AdminState},
		Value:          1200,
		Unit:           "people",
		Period:         domain.PeriodEvent,
		StartDate:      day,
		EndDate:        day,
		Text:           "Conflict displacement: clashes",
		ProcessedAt:    now,
	}

	msg, err := serializeToMessage(o)
	require.NoError(t, err)

	assert.Equal(t, []byte("idmc_idu_conflict_displacements|idu-101"), msg.Key)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "source", msg.Headers[0].Key)
	assert.Equal(t, []byte("IDMC IDU"), msg.Headers[0].Value)
	assert.Equal(t, "variable_code", msg.Headers[1].Key)
	assert.Equal(t, []byte("idmc_idu_conflict_displacements"), msg.Headers[1].Value)
	assert.Equal(t, "processed_at", msg.Headers[2].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[2].Value)

	var got domain.Observation
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "SD02", got.Location.ID)
	assert.Equal(t, domain.PeriodEvent, got.Period)
	assert.True(t, day.Equal(got.StartDate))
}

func TestPublish_EmptyIsNoop(t *testing.T) {
	w := NewWriter(&config.Config{KafkaBrokers: []string{"127.0.0.1:1"}, KafkaSinkTopic: "obs"}, slog.Default())
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.Publish(context.Background(), nil))
}
