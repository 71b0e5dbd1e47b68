package domain

import "time"

// Attachment is a file (dental image, report) stored against an appointment.
type Attachment struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AppointmentRef int64     `gorm:"not null;index" json:"appointment_ref"`
	UploaderRef    int64     `gorm:"not null" json:"uploader_ref"`
	OriginalName   string    `gorm:"type:varchar(255)" json:"original_name"`
	ObjectKey      string    `gorm:"type:varchar(512);not null" json:"object_key"`
	URL            string    `gorm:"type:varchar(1024);not null" json:"url"`
	MimeType       string    `gorm:"type:varchar(100);not null" json:"mime_type"`
	Size           int64     `gorm:"not null" json:"size"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime:false" json:"created_at"`
}
