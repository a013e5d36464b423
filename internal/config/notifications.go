// internal/config/notifications.go - Pushover notification configuration
package config

import (
	"fmt"
	"time"
)

type NotificationConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Pushover PushoverConfig `yaml:"pushover"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

type PushoverConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIURL   string `yaml:"api_url"`
	APIToken string `yaml:"api_token"`
	UserKey  string `yaml:"user_key"`
	Priority int    `yaml:"priority"` // -2 (silent) .. 2 (emergency)
	Retry    int    `yaml:"retry"`    // seconds, emergency priority only
	Expire   int    `yaml:"expire"`   // seconds, emergency priority only
	Sound    string `yaml:"sound"`
	Device   string `yaml:"device"`
	Title    string `yaml:"title"`
	Template string `yaml:"template"`
	// OnlyOnEvent limits delivery to alarm_raised, alarm_rearmed,
	// alarm_recovered, cert_expiring or cert_expired.
	OnlyOnEvent []string `yaml:"only_on_event"`
}

type ThrottleConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Window       time.Duration `yaml:"window"`
	MaxPerTarget int           `yaml:"max_per_target"`
	MaxTotal     int           `yaml:"max_total"`
}

func setNotificationDefaults(cfg *NotificationConfig) {
	if cfg.Pushover.APIURL == "" {
		cfg.Pushover.APIURL = "https://api.pushover.net/1/messages.json"
	}
	if cfg.Pushover.Title == "" {
		cfg.Pushover.Title = "hostwatch: {{.Domain}}"
	}
	if cfg.Pushover.Template == "" {
		cfg.Pushover.Template = "{{.Domain}} {{.Summary}}"
	}
	if len(cfg.Pushover.OnlyOnEvent) == 0 {
		cfg.Pushover.OnlyOnEvent = []string{"alarm_raised", "alarm_rearmed", "alarm_recovered", "cert_expiring", "cert_expired"}
	}
	if cfg.Pushover.Sound == "" {
		cfg.Pushover.Sound = "pushover"
	}
	if cfg.Throttle.Window == 0 {
		cfg.Throttle.Window = 15 * time.Minute
	}
	if cfg.Throttle.MaxPerTarget == 0 {
		cfg.Throttle.MaxPerTarget = 5
	}
	if cfg.Throttle.MaxTotal == 0 {
		cfg.Throttle.MaxTotal = 20
	}
}

func mergeNotificationConfig(main *NotificationConfig, partial *NotificationConfig) {
	main.Enabled = partial.Enabled

	if partial.Pushover.APIToken != "" {
		main.Pushover.APIToken = partial.Pushover.APIToken
	}
	if partial.Pushover.UserKey != "" {
		main.Pushover.UserKey = partial.Pushover.UserKey
	}
	if partial.Pushover.Priority != 0 || !main.Pushover.Enabled {
		main.Pushover.Priority = partial.Pushover.Priority
	}
	if partial.Pushover.Retry != 0 {
		main.Pushover.Retry = partial.Pushover.Retry
	}
	if partial.Pushover.Expire != 0 {
		main.Pushover.Expire = partial.Pushover.Expire
	}
	if partial.Pushover.Sound != "" {
		main.Pushover.Sound = partial.Pushover.Sound
	}
	if partial.Pushover.Device != "" {
		main.Pushover.Device = partial.Pushover.Device
	}
	if partial.Pushover.Title != "" {
		main.Pushover.Title = partial.Pushover.Title
	}
	if partial.Pushover.Template != "" {
		main.Pushover.Template = partial.Pushover.Template
	}
	if len(partial.Pushover.OnlyOnEvent) > 0 {
		main.Pushover.OnlyOnEvent = partial.Pushover.OnlyOnEvent
	}
	main.Pushover.Enabled = partial.Pushover.Enabled

	if partial.Throttle.Enabled {
		main.Throttle = partial.Throttle
	}
}

// Validate ensures the notification configuration is usable
func (n *NotificationConfig) Validate() error {
	if !n.Enabled || !n.Pushover.Enabled {
		return nil
	}

	p := n.Pushover
	if p.APIToken == "" {
		return fmt.Errorf("notifications.pushover.api_token is required when Pushover is enabled")
	}
	if p.UserKey == "" {
		return fmt.Errorf("notifications.pushover.user_key is required when Pushover is enabled")
	}
	if p.Priority < -2 || p.Priority > 2 {
		return fmt.Errorf("notifications.pushover.priority must be between -2 and 2")
	}
	if p.Priority == 2 {
		if p.Retry < 30 {
			return fmt.Errorf("notifications.pushover.retry must be at least 30 seconds for emergency priority")
		}
		if p.Expire < 60 {
			return fmt.Errorf("notifications.pushover.expire must be at least 60 seconds for emergency priority")
		}
		if p.Expire > 10800 {
			return fmt.Errorf("notifications.pushover.expire cannot exceed 10800 seconds (3 hours)")
		}
	}
	return nil
}
