package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/edgebridge/gateway/internal/model"
)

// MakePingMessage builds the periodic keep-alive ping.
func MakePingMessage(gatewayKey string) *model.Message {
	return model.NewMessage(gatewayChannel(DeviceToPlatform, typePing, gatewayKey), nil)
}

// PongChannel returns the platform-side channel ping responses arrive on.
func PongChannel(gatewayKey string) string {
	return gatewayChannel(PlatformToDevice, typePong, gatewayKey)
}

// ParsePong extracts the platform timestamp (seconds since epoch) from a
// ping response.
func ParsePong(content []byte) (int64, error) {
	var payload struct {
		UTC *int64 `json:"utc"`
	}
	if err := json.Unmarshal(content, &payload); err != nil || payload.UTC == nil {
		return 0, fmt.Errorf("%w: pong", ErrMalformed)
	}
	return *payload.UTC, nil
}

// MakePongMessage builds a ping response; used by tests.
func MakePongMessage(gatewayKey string, utc int64) (*model.Message, error) {
	content, err := json.Marshal(struct {
		UTC int64 `json:"utc"`
	}{utc})
	if err != nil {
		return nil, err
	}
	return model.NewMessage(PongChannel(gatewayKey), content), nil
}
