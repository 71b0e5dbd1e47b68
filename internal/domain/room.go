package domain

import "time"

// Room is the credential container for one confirmed virtual appointment.
type Room struct {
	ID             int64      `gorm:"primaryKey" json:"-"`
	RoomID         string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_rooms_room_id" json:"room_id"`
	AppointmentRef int64      `gorm:"not null;index" json:"appointment_ref"`
	PatientRef     int64      `gorm:"not null" json:"patient_ref"`
	DoctorRef      int64      `gorm:"not null" json:"doctor_ref"`
	ValidFrom      time.Time  `gorm:"not null" json:"valid_from"`
	ValidUntil     time.Time  `gorm:"not null" json:"valid_until"`
	Revoked        bool       `gorm:"not null;default:false" json:"revoked"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;autoCreateTime:false" json:"created_at"`
}

// ParticipantRole returns "patient" or "doctor" for a listed user, "" otherwise.
func (r *Room) ParticipantRole(userID int64) string {
	switch userID {
	case r.PatientRef:
		return "patient"
	case r.DoctorRef:
		return "doctor"
	}
	return ""
}
