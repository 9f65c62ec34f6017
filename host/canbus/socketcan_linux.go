package canbus

import (
	"context"
	"fmt"

	"go.einride.tech/can/pkg/socketcan"
)

// Dial opens iface (e.g. "can0") and returns the stream of nodeID. A
// non-nil uuid assigns nodeID to that node first.
func Dial(ctx context.Context, iface string, nodeID uint8, uuid *[6]byte) (*Port, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	tx := socketcan.NewTransmitter(conn)
	if uuid != nil {
		if err := AssignNodeID(ctx, tx, *uuid, nodeID); err != nil {
			conn.Close()
			return nil, fmt.Errorf("assign node id %d: %w", nodeID, err)
		}
	}
	return NewPort(tx, socketcan.NewReceiver(conn), conn, nodeID), nil
}
