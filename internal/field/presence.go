package field

import "fmt"

// OnlineThreshold is the coherence above which the hub shows as online.
const OnlineThreshold = 70.0

// Presence is the status line shown by chat transports.
type Presence struct {
	Text   string `json:"text"`
	Online bool   `json:"online"`
}

// PresenceFor renders the presence line for a state.
func PresenceFor(s State) Presence {
	return Presence{
		Text:   fmt.Sprintf("Field Coherence: %.2f%%", s.Coherence),
		Online: s.Coherence > OnlineThreshold,
	}
}
