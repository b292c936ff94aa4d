package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	l := newLogger()

	require.IsType(t, &logrus.TextFormatter{}, l.Formatter)
	formatter := l.Formatter.(*logrus.TextFormatter)
	assert.Equal(t, time.RFC3339Nano, formatter.TimestampFormat)
	assert.True(t, formatter.FullTimestamp)
}

func TestGetLogger_Fallback(t *testing.T) {
	entry := G(context.Background())

	require.NotNil(t, entry)
	assert.Equal(t, L.Logger, entry.Logger)
}

func TestWithLogger_RoundTrip(t *testing.T) {
	custom := logrus.NewEntry(logrus.New()).WithField("test_case_id", "abc_ctx10")
	ctx := WithLogger(context.Background(), custom)

	entry := G(ctx)
	assert.Equal(t, "abc_ctx10", entry.Data["test_case_id"])
}

func TestWithFields_Accumulates(t *testing.T) {
	ctx := WithFields(context.Background(), logrus.Fields{"batch": 3})
	ctx = WithFields(ctx, logrus.Fields{"pool": "large"})

	entry := G(ctx)
	assert.Equal(t, 3, entry.Data["batch"])
	assert.Equal(t, "large", entry.Data["pool"])
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	setFormat(l, "json")

	ctx := WithLogger(context.Background(), logrus.NewEntry(l))
	G(ctx).Info("snapshot exported")

	var logged map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logged))
	assert.Equal(t, "snapshot exported", logged["message"])
	assert.Equal(t, "info", logged["logLevel"])
	assert.Contains(t, logged, "timestamp")
}

func TestSetLogLevel(t *testing.T) {
	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, logrus.DebugLevel, L.Logger.GetLevel())

	assert.Error(t, SetLogLevel("not-a-level"))

	require.NoError(t, SetLogLevel("info"))
}
