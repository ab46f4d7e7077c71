package config

import "time"

var defaults = map[string]any{
	"secret":      "",
	"token_ttl":   8 * 60 * 60, // 8 hours
	"log_level":   "info",
	"nonce_store": "memory",
	"listen_addr": ":8080",

	"admin_networks": "",

	"rbac.policy_file": "",
	"rbac.admins":      []string{},

	"storage.sqlite.path": "./data/easybox.db",

	"mqtt.broker":          "tcp://localhost:1883",
	"mqtt.client_id":       "easybox-backend",
	"mqtt.username":        "",
	"mqtt.password":        "",
	"mqtt.topic_prefix":    "easybox",
	"mqtt.request_timeout": 10 * time.Second,
	"mqtt.keepalive":       30 * time.Second,
	"mqtt.sync_retries":    3,

	"geocoder.url":         "https://nominatim.openstreetmap.org/search",
	"geocoder.user_agent":  "easybox-network/1.0",
	"geocoder.rate":        1.0,
	"geocoder.cache_ttl":   24 * time.Hour,
	"geocoder.max_retries": 2,
	"geocoder.timeout":     10 * time.Second,

	"reservation.hold_ttl":      15 * time.Minute,
	"reservation.window_before": 3 * time.Hour,
	"reservation.window_after":  27 * time.Hour,
	"reservation.qr_size":       QR_IMAGE_SIZE,

	"cleanup.hold_interval":  time.Minute,
	"cleanup.sweep_interval": 10 * time.Minute,
	"cleanup.tick_timeout":   30 * time.Second,

	"registration.merge_radius":   10.0,
	"registration.min_separation": 100.0,

	"email.host":     "",
	"email.port":     25,
	"email.username": "",
	"email.password": "",
	"email.from":     "noreply@example.com",
}

func Defaults() map[string]any {
	values := make(map[string]any)
	for k, v := range defaults {
		values[k] = v
	}
	return values
}
