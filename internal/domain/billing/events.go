package billing

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/maytees/homifyai-sub000/internal/types"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEvent parses a verified webhook body. known is false for event types the sync does
// not consume; those are acknowledged without touching any state.
func DecodeEvent(eventID string, body []byte) (event *types.SubscriptionEvent, known bool, err error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false, fmt.Errorf("%w: malformed webhook envelope: %v", types.ErrBadRequest, err)
	}

	kind := types.SubscriptionEventKind(env.Type)
	if !slices.Contains(types.SubscriptionEventKinds, kind) {
		return &types.SubscriptionEvent{EventID: eventID, Kind: kind}, false, nil
	}

	var payload types.SubscriptionPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, true, fmt.Errorf("%w: malformed %s payload: %v", types.ErrBadRequest, kind, err)
	}
	if payload.ID == "" {
		return nil, true, fmt.Errorf("%w: %s payload has no subscription id", types.ErrBadRequest, kind)
	}

	return &types.SubscriptionEvent{
		EventID: eventID,
		Kind:    kind,
		Payload: payload,
	}, true, nil
}
