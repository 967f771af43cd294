package model

import (
	"time"

	"mediagenda/internal/availability"
)

// DefaultSlotMinutes is used when neither the request nor the doctor sets a duration.
const DefaultSlotMinutes = 30

// Patient is a person who books appointments. Deactivated patients are kept
// for history and hidden from search.
type Patient struct {
	ID             int64      `json:"id"`
	UUID           string     `json:"uuid"`
	Name           string     `json:"name"`
	CPF            string     `json:"cpf,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	WhatsApp       string     `json:"whatsapp,omitempty"`
	Email          string     `json:"email,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	TelegramChatID int64      `json:"telegram_chat_id,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Doctor is a bookable practitioner, identified across clinic.yaml syncs by CRM.
// Hours is loaded separately from the working_hours table.
type Doctor struct {
	ID                  int64                       `json:"id"`
	UUID                string                      `json:"uuid"`
	Name                string                      `json:"name"`
	CRM                 string                      `json:"crm"`
	Specialty           string                      `json:"specialty,omitempty"`
	Email               string                      `json:"email,omitempty"`
	Phone               string                      `json:"phone,omitempty"`
	SlotDurationMinutes int                         `json:"slot_duration_minutes"`
	Active              bool                        `json:"active"`
	Hours               availability.WeeklySchedule `json:"-"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

// DefaultDuration returns the doctor's appointment length, or fallback when unset.
func (d *Doctor) DefaultDuration(fallback int) int {
	if d.SlotDurationMinutes > 0 {
		return d.SlotDurationMinutes
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultSlotMinutes
}
