package api

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// FetchStatus connects to a running daemon's status API and performs one
// status request.
func FetchStatus(ctx context.Context, url string) (*StatusResponse, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", url, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Request{ID: RequestStatus}); err != nil {
		return nil, fmt.Errorf("send status request: %w", err)
	}

	var resp StatusResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read status response: %w", err)
	}
	return &resp, nil
}
