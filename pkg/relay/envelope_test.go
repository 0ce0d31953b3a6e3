package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	envelopes := []Envelope{
		ContentEnvelope{Text: "分布式一致性"},
		ReferencesEnvelope{References: []Reference{{TopicId: "t9", Topic: "raft", Relevance: 0.87}}},
		ToolCallEnvelope{Id: "call-1", Name: "search_kb", Args: json.RawMessage(`{"q":"raft"}`)},
		ToolResultEnvelope{Id: "call-1", Name: "search_kb", Result: json.RawMessage(`{"hits":3}`)},
		ErrorEnvelope{Message: "quota exceeded"},
		DoneEnvelope{SessionId: "3f0c", IsFailed: true, FailReason: "quota exceeded"},
	}

	for _, env := range envelopes {
		t.Run(env.EnvelopeType(), func(t *testing.T) {
			data, err := MarshalEnvelope(env)
			require.NoError(t, err)

			got, err := UnmarshalEnvelope(data)
			require.NoError(t, err)
			assert.Equal(t, env, got)
		})
	}
}

func TestEnvelopeWireDiscriminant(t *testing.T) {
	data, err := MarshalEnvelope(ContentEnvelope{Text: "hi"})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "content", raw["type"])
}

func TestUnmarshalEnvelopeRejectsUnknownType(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte(`{"type":"heartbeat"}`))
	assert.Error(t, err)
}

func TestDoneEnvelopeOmitsEmptySessionId(t *testing.T) {
	data, err := MarshalEnvelope(DoneEnvelope{IsFailed: false})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	_, present := raw["sessionId"]
	assert.False(t, present, "unsaved runs must not carry a sessionId")
	assert.Equal(t, false, raw["isFailed"])
}
