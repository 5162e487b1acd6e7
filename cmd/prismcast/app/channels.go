package app

import (
	"encoding/json"
	"fmt"
	"os"
)

// ChannelConfig describes one published channel and where its capture
// stream comes from.
type ChannelConfig struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	Name       string `json:"name"`
	CaptureURL string `json:"captureURL"`
}

type ChannelList struct {
	Channels []ChannelConfig `json:"channels"`
}

// Get returns the channel with the given ID.
func (cl *ChannelList) Get(id string) (ChannelConfig, bool) {
	for _, ch := range cl.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

func readChannels(path string) (*ChannelList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cl := &ChannelList{}
	if err := json.Unmarshal(data, cl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
	}
	seen := make(map[string]bool, len(cl.Channels))
	for i, ch := range cl.Channels {
		if ch.ID == "" || ch.Name == "" || ch.CaptureURL == "" {
			return nil, fmt.Errorf("channel %d: id, name, and captureURL are required", i)
		}
		if seen[ch.ID] {
			return nil, fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = true
	}
	return cl, nil
}
