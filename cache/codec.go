package cache

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Sentinel is the payload stored for a key confirmed absent from the system
// of record. Codecs never produce an empty encoding, so an empty payload is
// always the sentinel.
const Sentinel = ""

// Codec turns values into store payloads and back.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return "msgpack" }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

var (
	// JSONCodec writes human-readable payloads compatible with other writers
	// sharing the keyspace. It is the default.
	JSONCodec Codec = jsonCodec{}
	// MsgpackCodec writes compact binary payloads.
	MsgpackCodec Codec = msgpackCodec{}
)

// CodecByName returns the codec registered under name ("json" or "msgpack").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec, nil
	case "msgpack":
		return MsgpackCodec, nil
	}
	return nil, errors.Newf("cache: unknown codec %q", name)
}

// Timestamp is the logical expiry carried by an Envelope. It is written as
// RFC 3339 in JSON and accepts epoch milliseconds or a zone-less local
// date-time on input.
type Timestamp struct {
	time.Time
}

var legacyLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if tm, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = tm
			return nil
		}
		for _, layout := range legacyLayouts {
			if tm, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				t.Time = tm
				return nil
			}
		}
		return errors.Newf("cache: unrecognized timestamp %q", s)
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "cache: unrecognized timestamp %s", data)
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

func (t Timestamp) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeTime(t.Time)
}

func (t *Timestamp) DecodeMsgpack(dec *msgpack.Decoder) error {
	tm, err := dec.DecodeTime()
	if err != nil {
		return err
	}
	t.Time = tm
	return nil
}

// Envelope wraps a value with its logical expiry.
type Envelope[T any] struct {
	Data       T         `json:"data" msgpack:"data"`
	ExpireTime Timestamp `json:"expireTime" msgpack:"expireTime"`
}

// Expired reports whether the logical expiry is not in the future.
func (e Envelope[T]) Expired(now time.Time) bool {
	return !e.ExpireTime.After(now)
}

// EncodeValue encodes v with codec.
func EncodeValue[T any](codec Codec, v T) (string, error) {
	buf, err := codec.Marshal(v)
	if err != nil {
		return "", errors.Wrapf(err, "cache: %s encode", codec.Name())
	}
	if len(buf) == 0 {
		return "", errors.Newf("cache: %s produced an empty payload", codec.Name())
	}
	return string(buf), nil
}

// DecodeValue decodes a payload written by EncodeValue.
func DecodeValue[T any](codec Codec, payload string) (T, error) {
	var v T
	if payload == Sentinel {
		return v, errors.New("cache: cannot decode the absent sentinel")
	}
	if err := codec.Unmarshal([]byte(payload), &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// EncodeEnvelope encodes data together with its logical expiry.
func EncodeEnvelope[T any](codec Codec, data T, expireAt time.Time) (string, error) {
	return EncodeValue(codec, Envelope[T]{Data: data, ExpireTime: Timestamp{expireAt}})
}

// DecodeEnvelope decodes a payload written by EncodeEnvelope.
func DecodeEnvelope[T any](codec Codec, payload string) (Envelope[T], error) {
	env, err := DecodeValue[Envelope[T]](codec, payload)
	if err != nil {
		return env, err
	}
	if env.ExpireTime.IsZero() {
		return env, errors.New("cache: envelope has no expireTime")
	}
	return env, nil
}
