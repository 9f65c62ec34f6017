//go:build !linux

package canbus

import (
	"context"
	"errors"
)

// Dial is only supported on Linux
func Dial(ctx context.Context, iface string, nodeID uint8, uuid *[6]byte) (*Port, error) {
	return nil, errors.New("canbus: socketcan requires linux")
}
