package gateway

import (
	"context"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/kalambet/aide/internal/storage"
)

// Compile-time check that Clients implements Connector.
var _ Connector = (*Clients)(nil)

// ClientsConfig configures the production Connector.
type ClientsConfig struct {
	Google      GoogleOptions
	HubSpotURL  string
	HubSpotRate float64 // requests per second shared by all users; <= 0 disables limiting
	HubSpotHTTP *http.Client
}

// Clients builds Google and HubSpot clients bound to one user at a time.
type Clients struct {
	cfg     ClientsConfig
	limiter *rate.Limiter
}

// NewClients creates a Connector over the public Google and HubSpot APIs.
func NewClients(cfg ClientsConfig) *Clients {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.HubSpotRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.HubSpotRate), int(cfg.HubSpotRate)+1)
	}
	return &Clients{cfg: cfg, limiter: limiter}
}

// Mail returns the user's Gmail client. Construction performs no I/O.
func (c *Clients) Mail(user storage.User) (Mail, error) {
	m, err := NewGoogleMail(context.Background(), user, c.cfg.Google)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Clients) Calendar(user storage.User) (Calendar, error) {
	cal, err := NewGoogleCalendar(context.Background(), user, c.cfg.Google)
	if err != nil {
		return nil, err
	}
	return cal, nil
}

func (c *Clients) CRM(user storage.User) (CRM, error) {
	h, err := NewHubSpot(c.cfg.HubSpotURL, user, c.cfg.HubSpotHTTP, c.limiter)
	if err != nil {
		return nil, err
	}
	return h, nil
}
