package datastore

import (
	"encoding/json"

	"github.com/storyboard/enrich-go/internal/errors"
	"github.com/storyboard/enrich-go/internal/events"
)

// SaveSystemAlert persists an operator alert row.
func (ds *DataStore) SaveSystemAlert(alert *SystemAlert) error {
	if err := ds.DB.Create(alert).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_system_alert").
			Build()
	}
	return nil
}

// AlertConsumer persists alert events from the event bus into the
// system_alerts table so operators can review them after the fact.
type AlertConsumer struct {
	Store Interface
}

// Name implements events.Consumer.
func (c *AlertConsumer) Name() string { return "datastore" }

// ProcessAlert implements events.Consumer.
func (c *AlertConsumer) ProcessAlert(event *events.AlertEvent) error {
	contextJSON := ""
	if len(event.Context) > 0 {
		if b, err := json.Marshal(event.Context); err == nil {
			contextJSON = string(b)
		}
	}
	return c.Store.SaveSystemAlert(&SystemAlert{
		Type:      event.Type,
		Severity:  event.Severity,
		Title:     event.Title,
		Message:   event.Message,
		Context:   contextJSON,
		CreatedAt: event.Timestamp,
	})
}
