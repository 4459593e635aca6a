package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/local"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	credentialsFile = "credentials.json"
)

// CalendarClient is a device calendar backed by the Google Calendar API.
type CalendarClient struct {
	service     *calendar.Service
	logger      *slog.Logger
	calendarIDs map[string]bool // empty means every calendar in the list
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// The accountName selects the token file written by the auth command
// (token-<account>.json). calendarIDs restricts the visible calendars.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName string, calendarIDs []string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenFile := fmt.Sprintf("token-%s.json", accountName)
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	return NewClientWithHTTP(ctx, logger, config.Client(ctx, token), calendarIDs)
}

// NewClientWithHTTP builds a client over an already authenticated HTTP client.
func NewClientWithHTTP(ctx context.Context, logger *slog.Logger, client *http.Client, calendarIDs []string, opts ...option.ClientOption) (*CalendarClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	ids := make(map[string]bool)
	for _, id := range calendarIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = true
		}
	}
	return &CalendarClient{service: service, logger: logger, calendarIDs: ids}, nil
}

var _ local.Provider = (*CalendarClient)(nil)

// RequestPermission checks that the stored token can still read the calendar list.
func (c *CalendarClient) RequestPermission(ctx context.Context) (local.Permission, error) {
	_, err := c.service.CalendarList.List().MaxResults(1).Context(ctx).Do()
	if err == nil {
		return local.Granted, nil
	}
	err = classify("google.RequestPermission", err)
	if errors.Is(err, apperr.ErrPermissionDenied) {
		return local.Denied, nil
	}
	return local.Denied, err
}

// ListCalendars finds all calendars associated with the authenticated account.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]local.Calendar, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, classify("google.ListCalendars", fmt.Errorf("failed to list calendars: %w", err))
	}

	var out []local.Calendar
	for _, item := range list.Items {
		if len(c.calendarIDs) > 0 && !c.calendarIDs[item.Id] {
			continue
		}
		out = append(out, local.Calendar{
			ID:         item.Id,
			Name:       item.Summary,
			IsPrimary:  item.Primary,
			IsWritable: item.AccessRole == "owner" || item.AccessRole == "writer",
		})
	}
	return out, nil
}

// ListEvents fetches timed events from every calendar in the window.
func (c *CalendarClient) ListEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]local.Event, error) {
	var out []local.Event
	for _, calID := range calendarIDs {
		c.logger.Debug("Fetching events", "calendarID", calID, "start", start, "end", end)
		call := c.service.Events.List(calID).
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			OrderBy("startTime")
		err := call.Pages(ctx, func(page *calendar.Events) error {
			out = append(out, c.toLocalEvents(page.Items, calID)...)
			return nil
		})
		if err != nil {
			return nil, classify("google.ListEvents", fmt.Errorf("failed to retrieve events: %w", err))
		}
	}
	return out, nil
}

// CreateEvent inserts an event and returns "<calendarID>/<eventID>" as its ref.
func (c *CalendarClient) CreateEvent(ctx context.Context, calendarID string, f local.Fields) (string, error) {
	created, err := c.service.Events.Insert(calendarID, toGoogleEvent(f)).Context(ctx).Do()
	if err != nil {
		return "", classify("google.CreateEvent", fmt.Errorf("failed to insert event: %w", err))
	}
	return makeRef(calendarID, created.Id), nil
}

// UpdateEvent patches the event behind ref.
func (c *CalendarClient) UpdateEvent(ctx context.Context, ref string, f local.Fields) error {
	calID, eventID, err := splitRef(ref)
	if err != nil {
		return err
	}
	if _, err := c.service.Events.Patch(calID, eventID, toGoogleEvent(f)).Context(ctx).Do(); err != nil {
		return classify("google.UpdateEvent", fmt.Errorf("failed to patch event: %w", err))
	}
	return nil
}

// DeleteEvent removes the event behind ref.
func (c *CalendarClient) DeleteEvent(ctx context.Context, ref string) error {
	calID, eventID, err := splitRef(ref)
	if err != nil {
		return err
	}
	if err := c.service.Events.Delete(calID, eventID).Context(ctx).Do(); err != nil {
		return classify("google.DeleteEvent", fmt.Errorf("failed to delete event: %w", err))
	}
	return nil
}

// toLocalEvents converts Google Calendar events to device entries.
func (c *CalendarClient) toLocalEvents(googleEvents []*calendar.Event, calendarID string) []local.Event {
	var events []local.Event
	for _, item := range googleEvents {
		// Skip events without a start time (e.g., all-day events without a specific time)
		if item.Start == nil || item.Start.DateTime == "" || item.End == nil {
			continue
		}

		startTime, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			c.logger.Warn("Skipping event with unparsable start", "id", item.Id, "error", err)
			continue
		}
		endTime, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			c.logger.Warn("Skipping event with unparsable end", "id", item.Id, "error", err)
			continue
		}
		updated, _ := time.Parse(time.RFC3339, item.Updated)

		events = append(events, local.Event{
			Ref:          makeRef(calendarID, item.Id),
			CalendarID:   calendarID,
			LastModified: updated.UTC(),
			Fields: local.Fields{
				Title:     item.Summary,
				StartTime: startTime.UTC(),
				EndTime:   endTime.UTC(),
				Location:  item.Location,
				Notes:     item.Description,
			},
		})
	}
	return events
}

func toGoogleEvent(f local.Fields) *calendar.Event {
	return &calendar.Event{
		Summary:         f.Title,
		Description:     f.Notes,
		Location:        f.Location,
		Start:           &calendar.EventDateTime{DateTime: f.StartTime.Format(time.RFC3339)},
		End:             &calendar.EventDateTime{DateTime: f.EndTime.Format(time.RFC3339)},
		ForceSendFields: []string{"Summary", "Description", "Location"},
	}
}

func makeRef(calendarID, eventID string) string {
	return calendarID + "/" + eventID
}

// splitRef splits on the last slash; event ids never contain one.
func splitRef(ref string) (string, string, error) {
	i := strings.LastIndex(ref, "/")
	if i <= 0 || i == len(ref)-1 {
		return "", "", apperr.Validation("google.splitRef", "malformed local ref %q", ref)
	}
	return ref[:i], ref[i+1:], nil
}

func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.PermissionDenied(op, err)
		case http.StatusNotFound, http.StatusGone:
			return &apperr.Error{Kind: apperr.ErrNotFound, Op: op, Err: err}
		}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return apperr.PermissionDenied(op, err)
	}
	return apperr.Transport(op, err)
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the root directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// TokenAccounts lists the account names that have a token file in the working directory.
func TokenAccounts() ([]string, error) {
	files, err := os.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}
