package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ServiceWindow is the admin-configured local-time interval [StartOfDay, EndOfDay)
// in which virtual appointments may be scheduled.
type ServiceWindow struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	AdminRef    int64          `gorm:"not null;uniqueIndex:ux_service_windows_admin" json:"admin_ref"`
	StartOfDay  string         `gorm:"type:varchar(5);not null" json:"start_of_day"`
	EndOfDay    string         `gorm:"type:varchar(5);not null" json:"end_of_day"`
	Timezone    string         `gorm:"type:varchar(64);not null" json:"timezone"`
	AlertEmails datatypes.JSON `json:"alert_emails"`
	Active      bool           `gorm:"not null;index" json:"active"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;autoUpdateTime:false" json:"updated_at"`
}

func (ServiceWindow) TableName() string {
	return "admin_service_windows"
}

func (w *ServiceWindow) Emails() []string {
	var out []string
	if len(w.AlertEmails) == 0 {
		return out
	}
	_ = json.Unmarshal(w.AlertEmails, &out)
	return out
}

func (w *ServiceWindow) SetEmails(emails []string) {
	if emails == nil {
		emails = []string{}
	}
	raw, _ := json.Marshal(emails)
	w.AlertEmails = datatypes.JSON(raw)
}
