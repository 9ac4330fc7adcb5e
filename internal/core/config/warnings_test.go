package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWarnings_DefaultsAreClean(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.Warnings())
}

func TestWarnings(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		items  []string
	}{
		{
			name: "plain http to remote host",
			modify: func(c *Config) {
				c.Server.BaseURL = "http://chat.example.com/api"
				c.Server.SocketURL = "wss://chat.example.com/ws"
			},
			items: []string{"base_url"},
		},
		{
			name: "plain ws to remote host",
			modify: func(c *Config) {
				c.Server.BaseURL = "https://chat.example.com/api"
				c.Server.SocketURL = "ws://chat.example.com/ws"
			},
			items: []string{"socket_url"},
		},
		{
			name: "loopback ip is fine",
			modify: func(c *Config) {
				c.Server.BaseURL = "http://127.0.0.1:5000/api"
				c.Server.SocketURL = "ws://127.0.0.1:5000/ws"
			},
		},
		{
			name: "hosts differ",
			modify: func(c *Config) {
				c.Server.BaseURL = "https://api.example.com"
				c.Server.SocketURL = "wss://push.example.com/ws"
			},
			items: []string{"socket_url"},
		},
		{
			name:   "emit interval too long",
			modify: func(c *Config) { c.Typing.EmitInterval = 5 * time.Second },
			items:  []string{"emit_interval"},
		},
		{
			name:   "expiry skew too large",
			modify: func(c *Config) { c.Session.ExpirySkew = 10 * time.Minute },
			items:  []string{"expiry_skew"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			var items []string
			for _, w := range cfg.Warnings() {
				items = append(items, w.Item)
			}
			assert.Equal(t, tt.items, items)
		})
	}
}
