// Package publish turns an instructor's course form into blob uploads and
// ledger transactions, in a fixed order, reporting progress as it goes.
package publish

import (
	"fmt"
	"path"
	"strings"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
)

// File is an uploaded file held in memory.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// MaterialInput is an optional document. A nil File means none was attached
// and the material is skipped.
type MaterialInput struct {
	Name string
	Kind model.MaterialKind // Inferred from the file when empty
	File *File
}

// ModuleInput is one lesson as entered by the instructor.
type ModuleInput struct {
	Title       string
	Description string
	Video       *File
	Materials   []MaterialInput
}

// Form is the complete publish form.
type Form struct {
	Title          string
	Description    string
	Price          string // Decimal amount in SUI
	Thumbnail      *File
	InstructorName string
	About          string
	Contacts       string
	Materials      []MaterialInput
	Modules        []ModuleInput
	Questions      []model.Question
	PassingScore   *int
}

// ValidationError names the form field to correct.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks every precondition that can be checked without the network.
func (f *Form) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return invalid("title", "course title is required")
	}
	if strings.TrimSpace(f.Description) == "" {
		return invalid("description", "course description is required")
	}
	if _, err := model.ParsePrice(f.Price); err != nil {
		return invalid("price", "price must be a non-negative number: %v", err)
	}
	if f.Thumbnail == nil || len(f.Thumbnail.Data) == 0 {
		return invalid("thumbnail", "select a thumbnail image")
	}
	if strings.TrimSpace(f.InstructorName) == "" {
		return invalid("instructorName", "instructor name is required")
	}
	if strings.TrimSpace(f.About) == "" {
		return invalid("about", "instructor about text is required")
	}
	if strings.TrimSpace(f.Contacts) == "" {
		return invalid("contacts", "instructor contacts are required")
	}
	if err := validateMaterials("materials", f.Materials); err != nil {
		return err
	}

	if len(f.Modules) == 0 {
		return invalid("modules", "add at least one module")
	}
	for i, m := range f.Modules {
		field := fmt.Sprintf("modules[%d]", i)
		if strings.TrimSpace(m.Title) == "" {
			return invalid(field+".title", "module %d needs a title", i+1)
		}
		if m.Video == nil || len(m.Video.Data) == 0 {
			return invalid(field+".video", "module %d needs a video file", i+1)
		}
		if err := validateMaterials(field+".materials", m.Materials); err != nil {
			return err
		}
	}

	if len(f.Questions) == 0 {
		return invalid("questions", "add at least one quiz question")
	}
	for i, q := range f.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		if strings.TrimSpace(q.Text) == "" {
			return invalid(field+".question", "question %d needs text", i+1)
		}
		for j, o := range q.Options {
			if strings.TrimSpace(o) == "" {
				return invalid(fmt.Sprintf("%s.options[%d]", field, j), "question %d option %d is empty", i+1, j+1)
			}
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= model.OptionsPerQuestion {
			return invalid(field+".correctAnswer", "question %d needs a correct option between 1 and %d", i+1, model.OptionsPerQuestion)
		}
	}

	if f.PassingScore != nil && (*f.PassingScore < 0 || *f.PassingScore > 100) {
		return invalid("passingScore", "passing score must be between 0 and 100")
	}
	return nil
}

func validateMaterials(field string, ms []MaterialInput) error {
	for i, m := range ms {
		if m.File == nil {
			continue
		}
		if m.Kind != "" && !m.Kind.Valid() {
			return invalid(fmt.Sprintf("%s[%d].kind", field, i), "material kind %q must be pdf, word or other", m.Kind)
		}
	}
	return nil
}

// Reset clears every field.
func (f *Form) Reset() {
	*f = Form{}
}

// materialKind picks the declared kind or infers one from the file.
func materialKind(m MaterialInput) model.MaterialKind {
	if m.Kind != "" {
		return m.Kind
	}
	ct := strings.ToLower(m.File.ContentType)
	switch ext := strings.ToLower(path.Ext(m.File.Name)); {
	case ext == ".pdf" || ct == "application/pdf":
		return model.MaterialPDF
	case ext == ".doc" || ext == ".docx" || strings.Contains(ct, "msword") || strings.Contains(ct, "wordprocessingml"):
		return model.MaterialWord
	}
	return model.MaterialOther
}

func materialName(m MaterialInput) string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return m.File.Name
}
