// Package conformance provides end-to-end scenarios for the academy API.
package conformance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/access"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
)

func hasAction(v access.View, a access.Action) bool {
	for _, x := range v.Actions {
		if x == a {
			return true
		}
	}
	return false
}

type quizOutcome struct {
	Result struct {
		Correct int `json:"correct"`
		Total   int `json:"total"`
		Score   int `json:"score"`
	} `json:"result"`
	Passed bool        `json:"passed"`
	Access access.View `json:"access"`
}

// TestScenarios runs the learner and instructor journeys end to end.
func TestScenarios(t *testing.T) {
	h, err := NewHarness(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create harness: %v", err)
	}
	defer h.Close()

	const price = "1.5"
	course := h.Publish(t, "Distributed Systems", price)
	base := "/v1/courses/" + course.CourseID
	video := course.VideoBlobIDs[0]

	t.Run("A_NoAccessOffersEnroll", func(t *testing.T) {
		status, env := Call(t, h.Learner, http.MethodGet, base+"/access", nil)
		if status != http.StatusOK {
			t.Fatalf("access: status %d", status)
		}
		var v access.View
		Decode(t, env, &v)
		if v.State != access.NoAccess || !hasAction(v, access.ActionEnroll) {
			t.Errorf("got state %s actions %v", v.State, v.Actions)
		}

		status, env = Call(t, h.Learner, http.MethodGet, base+"/modules/0/video", nil)
		if status != http.StatusForbidden || env.Error == nil || env.Error.Code != "ACD_ACCESS_DENIED" {
			t.Errorf("video without access: status %d %+v", status, env.Error)
		}
		if n := h.VideoFetches(video); n != 0 {
			t.Errorf("video fetched %d times without access", n)
		}
	})

	t.Run("B_EnrollGrantsContent", func(t *testing.T) {
		status, _ := Call(t, h.Learner, http.MethodPost, base+"/enroll", nil)
		if status != http.StatusCreated {
			t.Fatalf("enroll: status %d", status)
		}

		var v access.View
		_, env := Call(t, h.Learner, http.MethodGet, base+"/access", nil)
		Decode(t, env, &v)
		if v.State != access.Enrolled || v.Optimistic {
			t.Errorf("after enroll: state %s optimistic %v", v.State, v.Optimistic)
		}

		var w struct {
			Balance uint64 `json:"balance"`
		}
		_, env = Call(t, h.Learner, http.MethodGet, "/v1/wallet", nil)
		Decode(t, env, &w)
		paid, _ := model.ParsePrice(price)
		if w.Balance != DefaultConfig().LearnerFunds-paid {
			t.Errorf("balance after enroll: got %d", w.Balance)
		}

		req, _ := http.NewRequest(http.MethodGet, h.Learner.URL+base+"/modules/0/video", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		if resp.StatusCode != http.StatusOK || body.String() != "video Distributed Systems" {
			t.Errorf("video after enroll: status %d body %q", resp.StatusCode, body.String())
		}
		if n := h.VideoFetches(video); n != 1 {
			t.Errorf("video fetches: got %d want 1", n)
		}
	})

	t.Run("C_FailingScoreOffersRetake", func(t *testing.T) {
		calls := len(h.Ledger.Calls())
		var out quizOutcome
		_, env := Call(t, h.Learner, http.MethodPost, base+"/quiz", map[string]any{"answers": []int{0, 1, 2, 0, 1}})
		Decode(t, env, &out)
		if out.Result.Score != 60 || out.Passed {
			t.Errorf("score: got %d passed %v", out.Result.Score, out.Passed)
		}
		if !hasAction(out.Access, access.ActionRetake) || hasAction(out.Access, access.ActionIssueCredential) {
			t.Errorf("actions after failing: %v", out.Access.Actions)
		}
		if n := len(h.Ledger.Calls()); n != calls {
			t.Errorf("grading made %d ledger calls", n-calls)
		}
	})

	t.Run("D_PassingScoreIssuesCredential", func(t *testing.T) {
		var out quizOutcome
		_, env := Call(t, h.Learner, http.MethodPost, base+"/quiz", map[string]any{"answers": []int{0, 1, 2, 3, 1}})
		Decode(t, env, &out)
		if out.Result.Score != 80 || !out.Passed {
			t.Errorf("score: got %d passed %v", out.Result.Score, out.Passed)
		}
		if !hasAction(out.Access, access.ActionIssueCredential) {
			t.Errorf("issue not offered: %v", out.Access.Actions)
		}

		status, env := Call(t, h.Learner, http.MethodPost, base+"/credential", map[string]string{"name": "Ada Lovelace"})
		if status != http.StatusCreated {
			t.Fatalf("issue: status %d %+v", status, env.Error)
		}
		var issued struct {
			Credential access.Issued `json:"credential"`
			Access     access.View   `json:"access"`
		}
		Decode(t, env, &issued)
		if issued.Access.State != access.Completed || issued.Credential.Redirect != access.CredentialsPath {
			t.Errorf("after issue: state %s redirect %q", issued.Access.State, issued.Credential.Redirect)
		}

		var creds []model.Credential
		_, env = Call(t, h.Learner, http.MethodGet, access.CredentialsPath, nil)
		Decode(t, env, &creds)
		if len(creds) != 1 || creds[0].Score != 80 || creds[0].StudentName != "Ada Lovelace" {
			t.Errorf("credentials: %+v", creds)
		}
	})

	t.Run("E_ExportHoldsEveryCreatedCourse", func(t *testing.T) {
		second := h.Publish(t, "Type Theory", "2")

		req, _ := http.NewRequest(http.MethodGet, h.Instructor.URL+"/v1/receipts/export", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var list []model.Receipt
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			t.Fatal(err)
		}

		if len(list) != 2 {
			t.Fatalf("exported %d receipts, want 2", len(list))
		}
		if list[0].Digest == list[1].Digest {
			t.Errorf("duplicate digest %s", list[0].Digest)
		}
		want := map[string]struct {
			title string
			price uint64
		}{
			course.Digest: {"Distributed Systems", 1_500_000_000},
			second.Digest: {"Type Theory", 2_000_000_000},
		}
		for _, r := range list {
			w, ok := want[r.Digest]
			if !ok {
				t.Errorf("unexpected receipt %s", r.Digest)
				continue
			}
			if r.Title != w.title || r.Price != w.price {
				t.Errorf("receipt %s: got %q/%d want %q/%d", r.Digest, r.Title, r.Price, w.title, w.price)
			}
		}

		// The learner service keeps its own, empty log.
		var learnerList []model.Receipt
		_, env := Call(t, h.Learner, http.MethodGet, "/v1/receipts", nil)
		Decode(t, env, &learnerList)
		if len(learnerList) != 0 {
			t.Errorf("learner receipts: %+v", learnerList)
		}
	})
}
