package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "incident:I1", Key("incident", "I1"))
	assert.Equal(t, "incident:I1", New("incident", "I1", nil).Key())
	assert.Equal(t, "alert#active_alerts", CollectionKey("alert", "active_alerts"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("id", "I-1_a.b"))

	for _, bad := range []string{"", "a:b", "a#b", "has space", "café"} {
		assert.Error(t, ValidateName("id", bad), "name %q", bad)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := Object{"sev": String("high"), "score": Int(9)}

	text, err := EncodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"score":9,"sev":"high"}`, text)

	back, err := DecodePayload(text)
	require.NoError(t, err)
	assert.Equal(t, payload, back)
}

func TestEncodePayload_Nil(t *testing.T) {
	text, err := EncodePayload(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", text)
}

func TestDecodePayload_RejectsNonObject(t *testing.T) {
	_, err := DecodePayload(`[1,2]`)
	assert.Error(t, err)

	_, err = DecodePayload(`not json`)
	assert.Error(t, err)
}

func TestRecordsRoundTrip(t *testing.T) {
	recs := []Record{
		New("alert", "A1", Object{"status": String("active")}),
		New("alert", "A2", Object{"status": String("active"), "sev": Int(3)}),
	}

	text, err := EncodeRecords(recs)
	require.NoError(t, err)

	back, err := DecodeRecords("alert", text)
	require.NoError(t, err)
	assert.Equal(t, recs, back)
}

func TestObjectField(t *testing.T) {
	obj := Object{"sev": String("high"), "score": Int(7), "open": Bool(false)}

	v, ok := obj.Field("sev")
	assert.True(t, ok)
	assert.Equal(t, "high", v)

	v, _ = obj.Field("score")
	assert.Equal(t, "7", v)

	v, _ = obj.Field("open")
	assert.Equal(t, "false", v)

	_, ok = obj.Field("missing")
	assert.False(t, ok)
}
