package service

import (
	"context"
	"strings"
	"time"

	"github.com/localhub/internal/geo"
	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
)

const defaultAlertRadiusKm = 5

// Alerts owns user locations and location-tagged alerts with their proximity fan-out.
type Alerts struct {
	alerts    AlertStore
	locations LocationStore
	notifier  *Notifier
	sanitizer Sanitizer
	radiusKm  float64
}

func NewAlerts(alerts AlertStore, locations LocationStore, notifier *Notifier, sanitizer Sanitizer, radiusKm float64) *Alerts {
	if radiusKm <= 0 {
		radiusKm = defaultAlertRadiusKm
	}
	return &Alerts{alerts: alerts, locations: locations, notifier: notifier, sanitizer: sanitizer, radiusKm: radiusKm}
}

func (a *Alerts) UpsertLocation(ctx context.Context, userID int64, lat, lng float64) error {
	if userID <= 0 {
		return invalid("user %d", userID)
	}
	if !geo.ValidCoordinates(lat, lng) {
		return invalid("coordinates %v,%v", lat, lng)
	}
	if err := a.locations.Upsert(ctx, userID, lat, lng); err != nil {
		return storeErr("alerts.UpsertLocation", err)
	}
	return nil
}

func (a *Alerts) ClearLocation(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return invalid("user %d", userID)
	}
	if err := a.locations.Clear(ctx, userID); err != nil {
		return storeErr("alerts.ClearLocation", err)
	}
	return nil
}

// PostAlert stores the alert, then notifies every user registered within the configured radius
// except the author. It returns the alert and the number of users notified. A failed fan-out
// is logged; the alert itself stays posted.
func (a *Alerts) PostAlert(ctx context.Context, authorID int64, title, body string, lat, lng float64) (*model.Alert, int, error) {
	defer logger.DeferLogDuration("alerts.PostAlert", time.Now())()
	if authorID <= 0 {
		return nil, 0, invalid("author %d", authorID)
	}
	title = strings.TrimSpace(a.sanitizer.Sanitize(title))
	if title == "" {
		return nil, 0, invalid("title required")
	}
	if !geo.ValidCoordinates(lat, lng) {
		return nil, 0, invalid("coordinates %v,%v", lat, lng)
	}
	alert := &model.Alert{
		AuthorID:  authorID,
		Title:     title,
		Body:      a.sanitizer.Sanitize(body),
		Latitude:  lat,
		Longitude: lng,
	}
	if err := a.alerts.Create(ctx, alert); err != nil {
		return nil, 0, storeErr("alerts.PostAlert", err)
	}

	candidates, err := a.locations.All(ctx)
	if err != nil {
		logger.Errorf("alerts.PostAlert locations: %v", err)
		return alert, 0, nil
	}
	ids, err := geo.UsersWithinRadius(lat, lng, a.radiusKm, candidates)
	if err != nil {
		logger.Errorf("alerts.PostAlert match: %v", err)
		return alert, 0, nil
	}
	recipients := make([]model.ParticipantRef, 0, len(ids))
	for _, id := range ids {
		recipients = append(recipients, model.User(id))
	}
	notified, _ := a.notifier.FanOut(ctx, Trigger{
		Actor:      model.User(authorID),
		Action:     model.ActionAlertPosted,
		TargetType: model.TargetAlert,
		TargetID:   alert.ID,
		Metadata: map[string]any{
			"title":     alert.Title,
			"snippet":   snippet(alert.Title),
			"latitude":  lat,
			"longitude": lng,
		},
	}, recipients)
	logger.Infof("alert %d: %d of %d registered users notified", alert.ID, notified, len(candidates))
	return alert, notified, nil
}
