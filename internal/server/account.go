package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	errordefs "github.com/RegistryAccord/registryaccord-academy-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
)

type walletResponse struct {
	Connected  bool   `json:"connected"`
	Address    string `json:"address,omitempty"`
	Balance    uint64 `json:"balance"`
	BalanceSui string `json:"balanceSui,omitempty"`
}

type profileResponse struct {
	model.InstructorProfile
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type verifyResponse struct {
	Confirmed bool          `json:"confirmed"`
	Receipt   model.Receipt `json:"receipt"`
}

// handleWallet reports the acting address and its balance.
func (m *Mux) handleWallet(w http.ResponseWriter, r *http.Request) {
	addr, ok := m.Flows.Session().Address()
	if !ok {
		m.writeSuccess(w, http.StatusOK, walletResponse{})
		return
	}
	bal, err := m.Ledger.Balance(r.Context(), addr)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, walletResponse{
		Connected:  true,
		Address:    addr,
		Balance:    bal,
		BalanceSui: model.FormatPrice(bal),
	})
}

func (m *Mux) profileView(p *model.InstructorProfile) profileResponse {
	out := profileResponse{InstructorProfile: *p}
	if p.AvatarBlobID != "" {
		out.AvatarURL = m.Blobs.URL(p.AvatarBlobID)
	}
	return out
}

func (m *Mux) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := m.Pipeline.Profiles().Get(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, m.profileView(p))
}

// handleCreateProfile creates the instructor profile. A second profile is
// refused by the ledger, not here.
func (m *Mux) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	in, err := m.profileInput(w, r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	res, err := m.Pipeline.Profiles().Create(r.Context(), in)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, res)
}

func (m *Mux) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	in, err := m.profileInput(w, r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	res, err := m.Pipeline.Profiles().Update(r.Context(), in)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, res)
}

func (m *Mux) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	list, err := m.Receipts.List(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, list)
}

func (m *Mux) handleClearReceipts(w http.ResponseWriter, r *http.Request) {
	if err := m.Receipts.Clear(r.Context()); err != nil {
		m.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveReceipt deletes one record. Unknown digests succeed.
func (m *Mux) handleRemoveReceipt(w http.ResponseWriter, r *http.Request) {
	if err := m.Receipts.Remove(r.Context(), r.PathValue("digest")); err != nil {
		m.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportReceipts downloads the log as a JSON document.
func (m *Mux) handleExportReceipts(w http.ResponseWriter, r *http.Request) {
	doc, err := m.Receipts.Export(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="academy-receipts.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// handleImportReceipts merges an exported document into the log.
func (m *Mux) handleImportReceipts(w http.ResponseWriter, r *http.Request) {
	if m.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, m.MaxUploadSize)
	}
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	n, err := m.Receipts.Import(r.Context(), doc)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]int{"imported": n})
}

// handleVerifyReceipt looks the receipt's transaction up on the ledger and
// records the created course id when it is found.
func (m *Mux) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	digest := r.PathValue("digest")
	rec, err := m.Receipts.Get(r.Context(), digest)
	if err != nil {
		m.fail(w, r, err)
		return
	}

	tx, err := m.Ledger.Transaction(r.Context(), digest)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		m.writeSuccess(w, http.StatusOK, verifyResponse{Receipt: rec})
		return
	case err != nil:
		m.fail(w, r, err)
		return
	}

	courseID, ok := tx.CreatedOfType(m.Contract.StructType(ledger.StructCourse))
	if !ok {
		m.fail(w, r, errordefs.New(errordefs.ACD_VALIDATION, "transaction did not create a course", ""))
		return
	}
	if err := m.Receipts.SetCourseID(r.Context(), digest, courseID); err != nil {
		m.fail(w, r, err)
		return
	}
	rec.CourseID = courseID
	slog.Info("receipt verified", "digest", digest, "course_id", courseID)
	m.writeSuccess(w, http.StatusOK, verifyResponse{Confirmed: true, Receipt: rec})
}
