package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSong struct {
	SongID   int64    `json:"songId" msgpack:"songId"`
	SongName string   `json:"songName" msgpack:"songName"`
	Artist   string   `json:"artistName" msgpack:"artistName"`
	Styles   []string `json:"styles,omitempty" msgpack:"styles,omitempty"`
}

func TestCodecRoundTrip(t *testing.T) {
	song := testSong{SongID: 42, SongName: "Blue", Artist: "Yui", Styles: []string{"pop"}}
	for _, codec := range []Codec{JSONCodec, MsgpackCodec} {
		t.Run(codec.Name(), func(t *testing.T) {
			payload, err := EncodeValue(codec, song)
			require.NoError(t, err)
			assert.NotEqual(t, Sentinel, payload)

			got, err := DecodeValue[testSong](codec, payload)
			require.NoError(t, err)
			assert.Equal(t, song, got)

			expireAt := time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC)
			payload, err = EncodeEnvelope(codec, song, expireAt)
			require.NoError(t, err)
			env, err := DecodeEnvelope[testSong](codec, payload)
			require.NoError(t, err)
			assert.Equal(t, song, env.Data)
			assert.True(t, expireAt.Equal(env.ExpireTime.Time))
		})
	}
}

func TestCodecZeroValuesAreNotSentinel(t *testing.T) {
	for _, codec := range []Codec{JSONCodec, MsgpackCodec} {
		payload, err := EncodeValue(codec, "")
		require.NoError(t, err)
		assert.NotEqual(t, Sentinel, payload, codec.Name())

		payload, err = EncodeValue[[]testSong](codec, nil)
		require.NoError(t, err)
		assert.NotEqual(t, Sentinel, payload, codec.Name())
	}
}

func TestDecodeSentinelFails(t *testing.T) {
	_, err := DecodeValue[testSong](JSONCodec, Sentinel)
	assert.Error(t, err)
}

func TestEnvelopeWireFormat(t *testing.T) {
	expireAt := time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC)
	payload, err := EncodeEnvelope(JSONCodec, testSong{SongID: 1, SongName: "a"}, expireAt)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	assert.Len(t, raw, 2)
	assert.JSONEq(t, `{"songId":1,"songName":"a","artistName":""}`, string(raw["data"]))
	assert.Equal(t, `"2026-10-18T12:30:00Z"`, string(raw["expireTime"]))
}

func TestEnvelopeAcceptsOtherTimestampForms(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected time.Time
	}{
		{
			name:     "epoch millis",
			payload:  `{"data":1,"expireTime":1792326600000}`,
			expected: time.UnixMilli(1792326600000),
		},
		{
			name:     "zone-less local",
			payload:  `{"data":1,"expireTime":"2026-10-18T12:30:00"}`,
			expected: time.Date(2026, 10, 18, 12, 30, 0, 0, time.Local),
		},
		{
			name:     "zone-less local with fraction",
			payload:  `{"data":1,"expireTime":"2026-10-18T12:30:00.123"}`,
			expected: time.Date(2026, 10, 18, 12, 30, 0, 123000000, time.Local),
		},
		{
			name:     "space separated",
			payload:  `{"data":1,"expireTime":"2026-10-18 12:30:00"}`,
			expected: time.Date(2026, 10, 18, 12, 30, 0, 0, time.Local),
		},
		{
			name:     "offset",
			payload:  `{"data":1,"expireTime":"2026-10-18T20:30:00+08:00"}`,
			expected: time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope[int](JSONCodec, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, 1, env.Data)
			assert.True(t, tt.expected.Equal(env.ExpireTime.Time), "got %s", env.ExpireTime)
		})
	}
}

func TestEnvelopeRejectsMissingExpiry(t *testing.T) {
	_, err := DecodeEnvelope[int](JSONCodec, `{"data":1}`)
	assert.Error(t, err)
	_, err = DecodeEnvelope[int](JSONCodec, `{"data":1,"expireTime":"tomorrow"}`)
	assert.Error(t, err)
	_, err = DecodeEnvelope[testSong](JSONCodec, `{"songId":1}`)
	assert.Error(t, err)
}

func TestEnvelopeExpired(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	env := Envelope[int]{ExpireTime: Timestamp{now}}
	assert.True(t, env.Expired(now), "expiry equal to now is stale")
	assert.False(t, env.Expired(now.Add(-time.Nanosecond)))
	assert.True(t, env.Expired(now.Add(time.Second)))
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("msgpack")
	assert.NoError(t, err)
	assert.Equal(t, MsgpackCodec, c)

	c, err = CodecByName("")
	assert.NoError(t, err)
	assert.Equal(t, JSONCodec, c)

	_, err = CodecByName("gob")
	assert.Error(t, err)
}
