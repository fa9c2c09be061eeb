package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	errordefs "github.com/RegistryAccord/registryaccord-academy-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/publish"
)

// multipartMemory is the part of a form kept in memory before spilling to disk.
const multipartMemory = 32 << 20

type materialField struct {
	Name string             `json:"name"`
	Kind model.MaterialKind `json:"kind"`
}

// questionField is the wire form of a quiz question. Options and the answer
// index are checked here since model.Question cannot tell a short, long or
// missing value from a zero one.
type questionField struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correctAnswer"`
}

func (q questionField) toModel(i int) (model.Question, error) {
	field := fmt.Sprintf("questions[%d]", i)
	if len(q.Options) != model.OptionsPerQuestion {
		return model.Question{}, &publish.ValidationError{
			Field:   field + ".options",
			Message: fmt.Sprintf("question %d needs exactly %d options, got %d", i+1, model.OptionsPerQuestion, len(q.Options)),
		}
	}
	if q.CorrectAnswer == nil {
		return model.Question{}, &publish.ValidationError{
			Field:   field + ".correctAnswer",
			Message: fmt.Sprintf("question %d needs a correct answer", i+1),
		}
	}
	out := model.Question{Text: q.Question, CorrectAnswer: *q.CorrectAnswer}
	copy(out.Options[:], q.Options)
	return out, nil
}

type moduleField struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Materials   []materialField `json:"materials"`
}

// parseMultipart bounds the body and parses it. The caller must call
// RemoveAll on the returned form.
func (m *Mux) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	if m.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, m.MaxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errordefs.NewWithDetails(errordefs.ACD_MEDIA_SIZE,
				fmt.Sprintf("request exceeds the %d byte upload limit", mbe.Limit), "", map[string]int64{"limit": mbe.Limit})
		}
		return nil, errordefs.New(errordefs.ACD_BAD_REQUEST, "expected a multipart form: "+err.Error(), "")
	}
	return r.MultipartForm, nil
}

// allowedType reports whether ct matches the allow list. Entries ending in "/"
// match every subtype.
func allowedType(ct string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	for _, a := range allowed {
		a = strings.ToLower(a)
		if strings.HasSuffix(a, "/") {
			if strings.HasPrefix(ct, a) {
				return true
			}
			continue
		}
		if ct == a {
			return true
		}
	}
	return false
}

// formFile reads the single file under field. A missing field is not an error.
func (m *Mux) formFile(form *multipart.Form, field string) (*publish.File, error) {
	fhs := form.File[field]
	if len(fhs) == 0 {
		return nil, nil
	}
	fh := fhs[0]
	f, err := fh.Open()
	if err != nil {
		return nil, errordefs.New(errordefs.ACD_BAD_REQUEST, fmt.Sprintf("%s: %v", field, err), "")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errordefs.New(errordefs.ACD_BAD_REQUEST, fmt.Sprintf("%s: %v", field, err), "")
	}

	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	if !allowedType(ct, m.AllowedMimeTypes) {
		return nil, errordefs.NewWithDetails(errordefs.ACD_MEDIA_TYPE,
			fmt.Sprintf("%s: content type %q is not allowed", field, ct), "", map[string]string{"field": field})
	}
	return &publish.File{Name: fh.Filename, ContentType: ct, Data: data}, nil
}

func formValue(form *multipart.Form, field string) string {
	if v := form.Value[field]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func formJSON(form *multipart.Form, field string, v any) error {
	raw := formValue(form, field)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errordefs.NewWithDetails(errordefs.ACD_BAD_REQUEST,
			fmt.Sprintf("%s: invalid JSON: %v", field, err), "", map[string]string{"field": field})
	}
	return nil
}

func (m *Mux) materials(form *multipart.Form, prefix string, fields []materialField) ([]publish.MaterialInput, error) {
	out := make([]publish.MaterialInput, 0, len(fields))
	for i, mf := range fields {
		file, err := m.formFile(form, fmt.Sprintf("%s[%d]", prefix, i))
		if err != nil {
			return nil, err
		}
		out = append(out, publish.MaterialInput{Name: mf.Name, Kind: mf.Kind, File: file})
	}
	return out, nil
}

// publishForm maps a multipart request onto the publish form.
//
// Scalar fields are plain values; modules, materials and questions are JSON
// arrays. Files are "thumbnail", "materials[j]", "modules[i].video" and
// "modules[i].materials[j]".
func (m *Mux) publishForm(form *multipart.Form) (*publish.Form, error) {
	f := &publish.Form{
		Title:          formValue(form, "title"),
		Description:    formValue(form, "description"),
		Price:          formValue(form, "price"),
		InstructorName: formValue(form, "instructorName"),
		About:          formValue(form, "about"),
		Contacts:       formValue(form, "contacts"),
	}

	var err error
	if f.Thumbnail, err = m.formFile(form, "thumbnail"); err != nil {
		return nil, err
	}

	var courseMaterials []materialField
	if err := formJSON(form, "materials", &courseMaterials); err != nil {
		return nil, err
	}
	if f.Materials, err = m.materials(form, "materials", courseMaterials); err != nil {
		return nil, err
	}

	var modules []moduleField
	if err := formJSON(form, "modules", &modules); err != nil {
		return nil, err
	}
	for i, mod := range modules {
		prefix := fmt.Sprintf("modules[%d]", i)
		in := publish.ModuleInput{Title: mod.Title, Description: mod.Description}
		if in.Video, err = m.formFile(form, prefix+".video"); err != nil {
			return nil, err
		}
		if in.Materials, err = m.materials(form, prefix+".materials", mod.Materials); err != nil {
			return nil, err
		}
		f.Modules = append(f.Modules, in)
	}

	var questions []questionField
	if err := formJSON(form, "questions", &questions); err != nil {
		return nil, err
	}
	for i, qf := range questions {
		q, err := qf.toModel(i)
		if err != nil {
			return nil, err
		}
		f.Questions = append(f.Questions, q)
	}

	if raw := strings.TrimSpace(formValue(form, "passingScore")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &publish.ValidationError{Field: "passingScore", Message: "passing score must be a whole number"}
		}
		f.PassingScore = &n
	}
	return f, nil
}

// profileInput reads a profile form. Multipart carries an optional "avatar"
// file; a JSON body carries about and contacts only.
func (m *Mux) profileInput(w http.ResponseWriter, r *http.Request) (publish.ProfileInput, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			About    string `json:"about"`
			Contacts string `json:"contacts"`
		}
		if err := decodeJSON(r, &body); err != nil {
			return publish.ProfileInput{}, err
		}
		return publish.ProfileInput{About: body.About, Contacts: body.Contacts}, nil
	}

	form, err := m.parseMultipart(w, r)
	if err != nil {
		return publish.ProfileInput{}, err
	}
	defer form.RemoveAll()
	avatar, err := m.formFile(form, "avatar")
	if err != nil {
		return publish.ProfileInput{}, err
	}
	return publish.ProfileInput{
		Avatar:   avatar,
		About:    formValue(form, "about"),
		Contacts: formValue(form, "contacts"),
	}, nil
}
