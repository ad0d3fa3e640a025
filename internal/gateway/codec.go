package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/guildwire/guildwire/internal/models"
)

// Opcodes.
const (
	OpDispatch            = 0
	OpHeartbeat           = 1
	OpIdentify            = 2
	OpResume              = 6
	OpReconnect           = 7
	OpRequestGuildMembers = 8
	OpInvalidSession      = 9
	OpHello               = 10
	OpHeartbeatAck        = 11
	OpGuildSync           = 12
)

// isZlib reports whether data starts with a zlib stream header.
func isZlib(data []byte) bool {
	if len(data) < 2 || data[0]&0x0f != 8 {
		return false
	}
	return (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}

func decodeFrame(data []byte) (*models.GatewayPayload, error) {
	if isZlib(data) {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed frame: %w", err)
		}
		inflated, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to inflate frame: %w", err)
		}
		data = inflated
	}

	var p models.GatewayPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &p, nil
}

func encodeFrame(op int, d interface{}) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode op %d payload: %w", op, err)
	}
	return json.Marshal(models.GatewayPayload{Op: op, D: raw})
}
