package services

import (
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr"

	"github.com/Wikid82/memoryorgan/internal/logger"
)

// Alerter receives operational alerts.
type Alerter interface {
	Alert(title, message string)
}

// AlertService forwards alerts to a shoutrrr URL (slack://, discord://,
// generic+https://, ...). An empty URL disables it.
type AlertService struct {
	url  string
	send func(url, message string) error
}

func NewAlertService(url string) *AlertService {
	return &AlertService{
		url:  strings.TrimSpace(url),
		send: func(url, message string) error { return shoutrrr.Send(url, message) },
	}
}

// Enabled reports whether alerts are delivered anywhere.
func (s *AlertService) Enabled() bool { return s != nil && s.url != "" }

// Alert sends asynchronously so callers on the request path never wait on
// the notification provider.
func (s *AlertService) Alert(title, message string) {
	if !s.Enabled() {
		return
	}
	msg := fmt.Sprintf("%s\n\n%s", title, message)
	go func() {
		if err := s.send(s.url, msg); err != nil {
			logger.Log().WithError(err).Warn("Failed to send alert")
		}
	}()
}
