package ledger

import (
	"strconv"
)

// Struct and event names of the course program.
const (
	StructCourse        = "Course"
	StructTicket        = "Ticket"
	StructCertificate   = "Certificate"
	StructProfile       = "TeacherProfile"
	EventCourseCreated  = "CourseCreated"
	CoinType            = "0x2::sui::SUI"
	CoinObjectType      = "0x2::coin::Coin<0x2::sui::SUI>"
	defaultClockID      = "0x6"
	defaultContractName = "academy"
)

// Entry-point function names.
const (
	FnEnroll           = "enroll"
	FnIssueCertificate = "issue_certificate"
	FnCreateProfile    = "create_teacher_profile"
	FnUpdateProfile    = "update_teacher_profile"
	FnCreateCourse     = "create_course"
)

// Contract builds calls and type strings for one deployed course program.
type Contract struct {
	PackageID string // Package object id
	Module    string // Move module name
	ClockID   string // Shared clock object
}

// NewContract returns a Contract with defaults filled in.
func NewContract(packageID, module, clockID string) Contract {
	if module == "" {
		module = defaultContractName
	}
	if clockID == "" {
		clockID = defaultClockID
	}
	return Contract{PackageID: packageID, Module: module, ClockID: clockID}
}

// StructType returns the fully qualified type of a struct or event in the module.
func (c Contract) StructType(name string) string {
	return c.PackageID + "::" + c.Module + "::" + name
}

func (c Contract) call(fn string, args ...any) Call {
	return Call{Package: c.PackageID, Module: c.Module, Function: fn, Args: args}
}

// Enroll pays price for courseID and mints a Ticket.
func (c Contract) Enroll(courseID string, price uint64) Call {
	call := c.call(FnEnroll, courseID)
	call.Payment = price
	return call
}

// IssueCertificate consumes ticketID and mints a Certificate.
func (c Contract) IssueCertificate(ticketID, studentName string, score int) Call {
	return c.call(FnIssueCertificate, ticketID, studentName, score, c.ClockID)
}

// CreateProfile mints an instructor profile for the sender.
func (c Contract) CreateProfile(avatarBlobID, about, contacts string) Call {
	return c.call(FnCreateProfile, avatarBlobID, about, contacts)
}

// UpdateProfile mutates an existing profile in place.
func (c Contract) UpdateProfile(profileID, avatarBlobID, about, contacts string) Call {
	return c.call(FnUpdateProfile, profileID, avatarBlobID, about, contacts)
}

// CreateCourse mints a course referencing profileID.
func (c Contract) CreateCourse(profileID, title, description string, price uint64, thumbnailBlobID, courseDataBlobID string) Call {
	return c.call(FnCreateCourse, profileID, title, description, strconv.FormatUint(price, 10), thumbnailBlobID, courseDataBlobID)
}
