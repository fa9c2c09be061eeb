// Package model defines the data structures used throughout the academy service.
// These structures mirror the ledger objects (courses, tickets, credentials, profiles),
// the off-ledger course content payload and the local receipt records.
package model

import (
	"time"
)

// DefaultPassingScore is the quiz threshold used when a payload carries none.
const DefaultPassingScore = 70

// OptionsPerQuestion is the fixed number of answer options on every quiz question.
const OptionsPerQuestion = 4

// Course represents a published course object on the ledger.
// Price is expressed in the ledger's smallest currency unit.
type Course struct {
	ID               string `json:"id"`               // Ledger object id
	Instructor       string `json:"instructor"`       // Instructor address
	ProfileID        string `json:"profileId"`        // Instructor profile object id
	Title            string `json:"title"`            // Course title
	Description      string `json:"description"`      // Course description
	Price            uint64 `json:"price"`            // Price in MIST
	ThumbnailBlobID  string `json:"thumbnailBlobId"`  // Blob id of the thumbnail image
	CourseDataBlobID string `json:"courseDataBlobId"` // Blob id of the content payload
}

// MaterialKind classifies an attached material.
type MaterialKind string

const (
	MaterialPDF   MaterialKind = "pdf"
	MaterialWord  MaterialKind = "word"
	MaterialOther MaterialKind = "other"
)

// Valid reports whether k is one of the known material kinds.
func (k MaterialKind) Valid() bool {
	switch k {
	case MaterialPDF, MaterialWord, MaterialOther:
		return true
	}
	return false
}

// Material is a downloadable document attached to a course or a module.
type Material struct {
	Name   string       `json:"name"`
	Kind   MaterialKind `json:"kind"`
	BlobID string       `json:"blobId"`
}

// Module is one video lesson of a course.
type Module struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	VideoBlobID string     `json:"videoBlobId"`
	Materials   []Material `json:"materials,omitempty"`
}

// Question is a four-option quiz question. CorrectAnswer indexes Options.
type Question struct {
	Text          string                     `json:"question"`
	Options       [OptionsPerQuestion]string `json:"options"`
	CorrectAnswer int                        `json:"correctAnswer"`
}

// ContentPayload is the off-ledger JSON document addressed by Course.CourseDataBlobID.
type ContentPayload struct {
	Modules            []Module   `json:"modules"`                      // Ordered video modules
	Materials          []Material `json:"materials,omitempty"`          // Course-level materials
	Questions          []Question `json:"questions"`                    // Ordered quiz questions
	PassingScore       *int       `json:"passingScore,omitempty"`       // Percentage threshold, nil means default
	InstructorName     string     `json:"instructorName,omitempty"`     // Display copy of the profile name
	InstructorAbout    string     `json:"instructorAbout,omitempty"`    // Display copy of the profile about text
	InstructorContacts string     `json:"instructorContacts,omitempty"` // Display copy of the profile contacts
}

// EffectivePassingScore returns the payload's threshold or the default when absent.
func (p *ContentPayload) EffectivePassingScore() int {
	if p == nil || p.PassingScore == nil {
		return DefaultPassingScore
	}
	return *p.PassingScore
}

// Public returns a copy of the payload with every correct answer hidden (set to -1),
// suitable for sending to the learner before grading.
func (p ContentPayload) Public() ContentPayload {
	out := p
	out.Questions = make([]Question, len(p.Questions))
	for i, q := range p.Questions {
		q.CorrectAnswer = -1
		out.Questions[i] = q
	}
	return out
}

// Ticket is the on-ledger proof that Owner paid to enroll in CourseID.
type Ticket struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	CourseID string `json:"courseId"`
}

// Credential is the non-transferable completion certificate.
type Credential struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"courseId"`
	Student     string    `json:"student"`
	StudentName string    `json:"studentName"`
	Score       int       `json:"score"`
	CompletedAt time.Time `json:"completedAt"`
}

// InstructorProfile is an instructor's public identity on the ledger.
type InstructorProfile struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	AvatarBlobID string `json:"avatarBlobId"`
	About        string `json:"about"`
	Contacts     string `json:"contacts"`
}

// Receipt is a local, advisory record of a course-creation transaction.
type Receipt struct {
	Digest           string    `json:"digest"`             // Transaction digest (unique key)
	Title            string    `json:"title"`              // Title snapshot
	Description      string    `json:"description"`        // Description snapshot
	Price            uint64    `json:"price"`              // Price snapshot in MIST
	VideoBlobIDs     []string  `json:"videoBlobIds"`       // Module video blob ids in module order
	ThumbnailBlobID  string    `json:"thumbnailBlobId"`    // Thumbnail blob id
	CourseDataBlobID string    `json:"courseDataBlobId"`   // Content payload blob id
	CourseID         string    `json:"courseId,omitempty"` // Resolved course object id, once known
	CreatedAt        time.Time `json:"createdAt"`          // When the transaction was submitted
}
