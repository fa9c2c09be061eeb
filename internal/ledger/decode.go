package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
)

// DecodeCourse maps a Course object onto the domain type.
func DecodeCourse(o *Object) (model.Course, error) {
	price, err := FieldUint(o.Fields, "price")
	if err != nil {
		return model.Course{}, fmt.Errorf("course %s: %w", o.ID, err)
	}
	return model.Course{
		ID:               o.ID,
		Instructor:       FieldString(o.Fields, "instructor"),
		ProfileID:        FieldString(o.Fields, "profile_id"),
		Title:            FieldString(o.Fields, "title"),
		Description:      FieldString(o.Fields, "description"),
		Price:            price,
		ThumbnailBlobID:  FieldString(o.Fields, "thumbnail_blob_id"),
		CourseDataBlobID: FieldString(o.Fields, "course_data_blob_id"),
	}, nil
}

// DecodeTicket maps a Ticket object onto the domain type.
func DecodeTicket(o *Object) model.Ticket {
	return model.Ticket{
		ID:       o.ID,
		Owner:    o.Owner,
		CourseID: FieldString(o.Fields, "course_id"),
	}
}

// DecodeCredential maps a Certificate object onto the domain type.
func DecodeCredential(o *Object) (model.Credential, error) {
	score, err := FieldUint(o.Fields, "score")
	if err != nil {
		return model.Credential{}, fmt.Errorf("certificate %s: %w", o.ID, err)
	}
	var completed time.Time
	if ms, err := FieldUint(o.Fields, "completed_at"); err == nil && ms > 0 {
		completed = time.UnixMilli(int64(ms)).UTC()
	}
	student := FieldString(o.Fields, "student")
	if student == "" {
		student = o.Owner
	}
	return model.Credential{
		ID:          o.ID,
		CourseID:    FieldString(o.Fields, "course_id"),
		Student:     student,
		StudentName: FieldString(o.Fields, "student_name"),
		Score:       int(score),
		CompletedAt: completed,
	}, nil
}

// DecodeProfile maps a TeacherProfile object onto the domain type.
func DecodeProfile(o *Object) model.InstructorProfile {
	owner := FieldString(o.Fields, "owner")
	if owner == "" {
		owner = o.Owner
	}
	return model.InstructorProfile{
		ID:           o.ID,
		Owner:        owner,
		Name:         FieldString(o.Fields, "name"),
		AvatarBlobID: FieldString(o.Fields, "avatar_blob_id"),
		About:        FieldString(o.Fields, "about"),
		Contacts:     FieldString(o.Fields, "contacts"),
	}
}

// FieldString reads a string field. Nested UID/ID structs ({"id": "0x.."}) are unwrapped.
func FieldString(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return id
		}
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// FieldUint reads an unsigned integer field encoded as a number or a decimal string.
func FieldUint(fields map[string]any, name string) (uint64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("field %q missing", name)
	}
	return toUint(v)
}

func toUint(v any) (uint64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseUint(n, 10, 64)
	case json.Number:
		return strconv.ParseUint(n.String(), 10, 64)
	case float64:
		if n < 0 {
			return 0, fmt.Errorf("negative value %v", n)
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case uint64:
		return n, nil
	case uint8:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
