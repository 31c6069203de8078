package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLogRequestEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, zerolog.DebugLevel)
	log := New("test")

	LogRequest(log, RequestLog{
		RequestID: "r1",
		Operation: "drr.find",
		Status:    "ok",
		LatencyMs: 12,
		TraceID:   "t1",
	})

	out := buf.String()
	assert.Contains(t, out, `"operation":"drr.find"`)
	assert.Contains(t, out, `"trace_id":"t1"`)
	assert.Contains(t, out, `"component":"test"`)
}

func TestLogRequestErrorUsesWarn(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, zerolog.DebugLevel)
	log := New("test")

	LogRequest(log, RequestLog{Operation: "x", ErrorCode: "VALIDATION_FAILED"})

	assert.Contains(t, buf.String(), `"level":"warn"`)
}
