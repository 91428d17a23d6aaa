package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/aide/internal/storage"
)

// DefaultHubSpotURL is the public HubSpot API base.
const DefaultHubSpotURL = "https://api.hubapi.com"

// noteToContact is HubSpot's association type id for note → contact.
const noteToContact = 202

var contactProperties = []string{
	"firstname", "lastname", "email", "phone", "company", "notes", "createdate", "lastmodifieddate",
}

// HubSpot implements CRM on the HubSpot v3 objects API for one user.
type HubSpot struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHubSpot creates a HubSpot client authorised with the user's token.
// limiter may be shared between users to stay under the app-wide quota.
func NewHubSpot(baseURL string, user storage.User, httpClient *http.Client, limiter *rate.Limiter) (*HubSpot, error) {
	if !user.HasCRMAccess() {
		return nil, fmt.Errorf("crm %w", ErrNotConfigured)
	}
	if baseURL == "" {
		baseURL = DefaultHubSpotURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &HubSpot{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      user.HubSpotToken,
		httpClient: httpClient,
		limiter:    limiter,
	}, nil
}

// hubspotObject mirrors one entry of a HubSpot objects response.
type hubspotObject struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

type hubspotPage struct {
	Results []hubspotObject `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

type hubspotFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type hubspotSearch struct {
	FilterGroups []struct {
		Filters []hubspotFilter `json:"filters"`
	} `json:"filterGroups"`
	Properties []string `json:"properties,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

func newSearch(f hubspotFilter, props []string, limit int) hubspotSearch {
	s := hubspotSearch{Properties: props, Limit: limit}
	s.FilterGroups = append(s.FilterGroups, struct {
		Filters []hubspotFilter `json:"filters"`
	}{Filters: []hubspotFilter{f}})
	return s
}

func (h *HubSpot) ListContacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", "100")
		q.Set("properties", strings.Join(contactProperties, ","))
		if after != "" {
			q.Set("after", after)
		}

		var page hubspotPage
		if err := h.do(ctx, http.MethodGet, "/crm/v3/objects/contacts?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, obj := range page.Results {
			out = append(out, toContact(obj))
		}
		if page.Paging == nil || page.Paging.Next == nil || page.Paging.Next.After == "" {
			return out, nil
		}
		after = page.Paging.Next.After
	}
}

func (h *HubSpot) FindContact(ctx context.Context, email string) (*Contact, error) {
	req := newSearch(hubspotFilter{PropertyName: "email", Operator: "EQ", Value: email}, contactProperties, 1)

	var page hubspotPage
	if err := h.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", req, &page); err != nil {
		return nil, err
	}
	if len(page.Results) == 0 {
		return nil, nil
	}
	c := toContact(page.Results[0])
	return &c, nil
}

func (h *HubSpot) CreateContact(ctx context.Context, in ContactInput) (Contact, error) {
	props := map[string]string{"email": in.Email}
	for k, v := range map[string]string{
		"firstname": in.FirstName,
		"lastname":  in.LastName,
		"phone":     in.Phone,
		"company":   in.Company,
	} {
		if v != "" {
			props[k] = v
		}
	}

	var obj hubspotObject
	if err := h.do(ctx, http.MethodPost, "/crm/v3/objects/contacts", map[string]any{"properties": props}, &obj); err != nil {
		return Contact{}, err
	}
	return toContact(obj), nil
}

func (h *HubSpot) AddNote(ctx context.Context, contactID, note string) error {
	body := map[string]any{
		"properties": map[string]string{
			"hs_note_body": note,
			"hs_timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		"associations": []map[string]any{{
			"to": map[string]string{"id": contactID},
			"types": []map[string]any{{
				"associationCategory": "HUBSPOT_DEFINED",
				"associationTypeId":   noteToContact,
			}},
		}},
	}
	return h.do(ctx, http.MethodPost, "/crm/v3/objects/notes", body, nil)
}

func (h *HubSpot) Notes(ctx context.Context, contactID string) ([]string, error) {
	req := newSearch(hubspotFilter{PropertyName: "associations.contact", Operator: "EQ", Value: contactID}, []string{"hs_note_body"}, 100)

	var page hubspotPage
	if err := h.do(ctx, http.MethodPost, "/crm/v3/objects/notes/search", req, &page); err != nil {
		return nil, err
	}
	notes := make([]string, 0, len(page.Results))
	for _, obj := range page.Results {
		if body := propString(obj.Properties, "hs_note_body"); body != "" {
			notes = append(notes, HTMLToText(body))
		}
	}
	return notes, nil
}

func (h *HubSpot) do(ctx context.Context, method, path string, in, out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("hubspot: waiting for rate limiter: %w", err)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("hubspot: encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("hubspot: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hubspot: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("hubspot: %w", ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("hubspot: %w", ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Service: "hubspot", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hubspot: decoding response: %w", err)
	}
	return nil
}

func toContact(obj hubspotObject) Contact {
	c := Contact{
		ID:           obj.ID,
		FirstName:    propString(obj.Properties, "firstname"),
		LastName:     propString(obj.Properties, "lastname"),
		Email:        propString(obj.Properties, "email"),
		Phone:        propString(obj.Properties, "phone"),
		Company:      propString(obj.Properties, "company"),
		Properties:   make(map[string]string, len(obj.Properties)),
		LastModified: obj.UpdatedAt,
	}
	for k := range obj.Properties {
		if v := propString(obj.Properties, k); v != "" {
			c.Properties[k] = v
		}
	}
	return c
}

func propString(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
