package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup("debug", "json", &buf))
	t.Cleanup(func() { _ = Setup("info", "text", nil) })

	WithComponent("amd").WithField("card", "card1").Debug("skipping adapter")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "amd", entry["component"])
	assert.Equal(t, "card1", entry["card"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, logrus.DebugLevel, Logger().GetLevel())
}

func TestSetupRejectsBadInput(t *testing.T) {
	assert.Error(t, Setup("loud", "text", nil))
	assert.Error(t, Setup("info", "xml", nil))
	assert.True(t, ValidLevel("warn"))
	assert.False(t, ValidLevel("verbose"))
}
