package nats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"

	"github.com/aegisflux/riskengine/internal/model"
)

// Header names
const (
	HeaderContentEncoding = "Content-Encoding"
	EncodingZstd          = "zstd"
)

const maxDecodedSize = 16 << 20

var (
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize), zstd.WithDecoderConcurrency(0))
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
)

// payload returns the message body, decompressed when the sender marked it as zstd
func payload(msg *nats.Msg) ([]byte, error) {
	if msg.Header == nil || !strings.EqualFold(msg.Header.Get(HeaderContentEncoding), EncodingZstd) {
		return msg.Data, nil
	}
	data, err := zstdDecoder.DecodeAll(msg.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd payload: %w", err)
	}
	return data, nil
}

// compress encodes data with zstd
func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// wireEvent is the inbound event envelope. Producers on events.raw use host_id and type,
// enriched producers use hostname and event_type.
type wireEvent struct {
	ID         json.RawMessage `json:"id"`
	Hostname   string          `json:"hostname"`
	HostID     string          `json:"host_id"`
	EventType  string          `json:"event_type"`
	Type       string          `json:"type"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Severity   string          `json:"severity"`
	CustomerID json.RawMessage `json:"customer_id"`
	Details    json.RawMessage `json:"details"`
}

// parseEvent converts a validated payload to a SecurityEvent
func parseEvent(data []byte) (model.SecurityEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return model.SecurityEvent{}, fmt.Errorf("failed to unmarshal event data: %w", err)
	}

	ts, err := model.ParseTimestamp(w.Timestamp)
	if err != nil {
		return model.SecurityEvent{}, err
	}

	ev := model.SecurityEvent{
		ID:         scalarString(w.ID),
		Hostname:   firstNonEmpty(w.Hostname, w.HostID),
		EventType:  firstNonEmpty(w.EventType, w.Type),
		Timestamp:  ts,
		Severity:   strings.ToLower(strings.TrimSpace(w.Severity)),
		CustomerID: scalarString(w.CustomerID),
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if len(w.Details) > 0 && !bytes.Equal(w.Details, []byte("null")) {
		ev.Details = model.DecodeDetails(ev.EventType, w.Details)
	}
	if !ev.Valid() {
		return model.SecurityEvent{}, fmt.Errorf("event %s is missing hostname, type or timestamp", ev.ID)
	}
	return ev, nil
}

func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
