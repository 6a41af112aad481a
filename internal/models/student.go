package models

import "strings"

// PlaceholderPhotoURL is shown for cards that are not in the roster.
const PlaceholderPhotoURL = "https://via.placeholder.com/120x120/95a5a6/white?text=?"

// Student is a roster entry. CardID is the unique lookup key.
type Student struct {
	FullName    string `json:"fullname"`
	CardID      string `json:"rfid"`
	SubjectName string `json:"subjectname"`
	Login       string `json:"login"`
	Password    string `json:"password"`
	ExamDate    string `json:"exam_date"`
	ExamTime    string `json:"exam_time"`
	Room        string `json:"room"`
	PhotoURL    string `json:"image"`
}

// IsPlaceholder reports whether the record stands in for an unknown card.
func (s *Student) IsPlaceholder() bool {
	return s != nil && s.FullName == ""
}

// Printable reports whether the record carries enough data to print.
func (s *Student) Printable() bool {
	return s != nil && strings.TrimSpace(s.FullName) != ""
}

// UnknownStudent returns the placeholder displayed for an unmatched card.
func UnknownStudent(cardID string) *Student {
	return &Student{
		CardID:   cardID,
		PhotoURL: PlaceholderPhotoURL,
	}
}

// PrintJob is the subset of student fields sent to the print service.
type PrintJob struct {
	FullName    string `json:"fullname"`
	CardID      string `json:"rfid"`
	SubjectName string `json:"subjectname"`
	Login       string `json:"login"`
	Password    string `json:"password"`
	ExamDate    string `json:"exam_date"`
	ExamTime    string `json:"exam_time"`
	Room        string `json:"room"`
}

// NewPrintJob copies the printable fields of s.
func NewPrintJob(s *Student) PrintJob {
	return PrintJob{
		FullName:    s.FullName,
		CardID:      s.CardID,
		SubjectName: s.SubjectName,
		Login:       s.Login,
		Password:    s.Password,
		ExamDate:    s.ExamDate,
		ExamTime:    s.ExamTime,
		Room:        s.Room,
	}
}
