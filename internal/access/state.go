// Package access implements the course access and completion workflow:
// resolving what a learner holds on the ledger, the quiz sub-state, credential
// issuance with an optimistic local transition, and periodic re-checks.
package access

import (
	"errors"
	"fmt"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/quiz"
)

// State of a (course, learner) pair.
type State string

const (
	NoAccess  State = "no_access" // Neither ticket nor credential
	Enrolled  State = "enrolled"  // Holds a ticket
	Testing   State = "testing"   // Answering the quiz; local only
	Completed State = "completed" // Holds a credential
)

// CanFetchVideo reports whether module videos may be fetched in s.
func (s State) CanFetchVideo() bool {
	switch s {
	case Enrolled, Testing, Completed:
		return true
	}
	return false
}

// Action is something the learner is offered in the current state.
type Action string

const (
	ActionEnroll          Action = "enroll"
	ActionWatch           Action = "watch"
	ActionTakeQuiz        Action = "take_quiz"
	ActionSubmitQuiz      Action = "submit_quiz"
	ActionRetake          Action = "retake"
	ActionIssueCredential Action = "issue_credential"
	ActionViewCredentials Action = "view_credentials"
)

// CredentialsPath is where the learner is sent after issuance.
const CredentialsPath = "/v1/credentials"

var (
	// ErrNoAccess is returned when gated content is requested without a ticket or credential.
	ErrNoAccess = errors.New("no access to this course")
	// ErrAccessUnknown is returned when ownership could not be read and an action needs it.
	ErrAccessUnknown = errors.New("course access could not be determined; try again")
	// ErrNameRequired is returned when issuing a credential without a display name.
	ErrNameRequired = errors.New("a display name is required for the credential")
	// ErrNotPassed is returned when issuing a credential after a failing attempt.
	ErrNotPassed = errors.New("quiz not passed")
	// ErrInvalidPayload wraps a course content payload that failed validation.
	ErrInvalidPayload = errors.New("course content payload is invalid")
)

// TransitionError reports an action not allowed from the current state.
type TransitionError struct {
	From   State
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Action, e.From)
}

// Snapshot is the resolved ledger view of one (course, learner) pair.
type Snapshot struct {
	CourseID   string
	Learner    string
	Course     model.Course
	Payload    *model.ContentPayload
	State      State
	Ticket     *model.Ticket
	Credential *model.Credential
	Optimistic bool // State comes from a local transition not yet visible on the ledger
	Degraded   bool // An ownership read failed and the state fell back to NoAccess
}

// View is what a learner sees for a course: the snapshot plus local quiz state.
type View struct {
	CourseID     string                `json:"courseId"`
	Learner      string                `json:"learner,omitempty"`
	State        State                 `json:"state"`
	Optimistic   bool                  `json:"optimistic,omitempty"`
	Degraded     bool                  `json:"degraded,omitempty"`
	Course       model.Course          `json:"course"`
	Payload      *model.ContentPayload `json:"payload,omitempty"` // Correct answers hidden
	PassingScore int                   `json:"passingScore"`
	TicketID     string                `json:"ticketId,omitempty"`
	Credential   *model.Credential     `json:"credential,omitempty"`
	Answers      []int                 `json:"answers,omitempty"`
	LastResult   *quiz.Result          `json:"lastResult,omitempty"`
	Actions      []Action              `json:"actions"`
	Redirect     string                `json:"redirect,omitempty"`
}
