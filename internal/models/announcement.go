package models

import (
	"errors"
	"fmt"
	"time"
)

// Announcement categories offered by the communication page
var AnnouncementCategories = []string{"General", "Culture", "Church", "District", "Emergency", "Event"}

// Announcement priorities, lowest first
var AnnouncementPriorities = []string{"Low", "Medium", "High", "Urgent"}

// Announcement is a community message shared across areas.
// Announcements are append-only: once stored they are never edited.
type Announcement struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Category       string    `json:"category"`
	Priority       string    `json:"priority"`
	Content        string    `json:"content"`
	TargetAudience []string  `json:"target_audience"`
	PublishDate    time.Time `json:"publish_date"`
	ExpiryDate     time.Time `json:"expiry_date"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks that all announcement fields are valid
func (a *Announcement) Validate() error {
	if a.ID == "" {
		return errors.New("announcement ID must not be empty")
	}
	if a.Title == "" {
		return errors.New("announcement title must not be empty")
	}
	if a.Content == "" {
		return errors.New("announcement content must not be empty")
	}
	if !contains(AnnouncementCategories, a.Category) {
		return fmt.Errorf("announcement category must be one of %v", AnnouncementCategories)
	}
	if !contains(AnnouncementPriorities, a.Priority) {
		return fmt.Errorf("announcement priority must be one of %v", AnnouncementPriorities)
	}
	if a.PublishDate.IsZero() || a.ExpiryDate.IsZero() {
		return errors.New("publish and expiry dates must be set")
	}
	if a.ExpiryDate.Before(a.PublishDate) {
		return errors.New("expiry date must not be before publish date")
	}
	if a.CreatedAt.IsZero() {
		return errors.New("created at must be set")
	}
	return nil
}

// ActiveAt reports whether t falls within the publish/expiry window (inclusive, by day).
func (a *Announcement) ActiveAt(t time.Time) bool {
	day := truncateDay(t)
	return !day.Before(truncateDay(a.PublishDate)) && !day.After(truncateDay(a.ExpiryDate))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
