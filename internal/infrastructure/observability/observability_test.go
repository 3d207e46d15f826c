package observability

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"nonsense", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(InitLogger("info", &buf), "spool")

	logger.Debug().Msg("hidden")
	logger.Info().Int("count", 3).Msg("claimed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"spool"`)
	assert.Contains(t, out, `"count":3`)
}

func TestNewMetrics_RegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("newsletter", reg)

	m.SpoolEnqueued.Add(3)
	m.SpoolCompleted.WithLabelValues("done", "false").Inc()
	m.MailsSent.WithLabelValues("newsletter", "sent").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["newsletter_spool_enqueued_total"])
	assert.True(t, names["newsletter_spool_completed_total"])
	assert.True(t, names["newsletter_mails_sent_total"])
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics("newsletter", reg)

	assert.Panics(t, func() { NewMetrics("newsletter", reg) })
}
