// models/student_device_loan.go
package models

import "time"

const (
	StudentTable = "students"
	DeviceTable  = "devices"
	LoanTable    = "loans"
)

// Index and constraint names the store reports back on violation.
const (
	IdxStudentUsername    = "idx_students_username"
	IdxStudentEmail       = "idx_students_email"
	IdxLoanOpenPerDevice  = "loans_one_open_per_device"
	IdxLoanOpenPerStudent = "loans_one_open_per_student"
	FkLoanStudent         = "fk_students_loans"
	FkLoanDevice          = "fk_devices_loans"
	StudentUsernameMaxLen = 20
	StudentNameMaxLen     = 32
	StudentEmailMaxLen    = 64
	DeviceTypeMaxLen      = 15
)

type Student struct {
	ID        uint   `gorm:"column:student_id;primaryKey" json:"studentId"`
	Username  string `gorm:"size:20;not null;uniqueIndex:idx_students_username" json:"username"`
	FirstName string `gorm:"column:firstname;size:32" json:"firstname"`
	LastName  string `gorm:"column:lastname;size:32;not null;index" json:"lastname"`
	Email     string `gorm:"size:64;not null;uniqueIndex:idx_students_email" json:"email"`
	Active    bool   `gorm:"not null;default:true" json:"active"`

	Loans []Loan `gorm:"foreignKey:StudentID;references:ID;constraint:OnDelete:RESTRICT" json:"loans,omitempty"`
}

// Device has no stored on_loan column; OnLoan is filled from an EXISTS
// subquery over open loans whenever a device is read.
type Device struct {
	ID         uint   `gorm:"column:device_id;primaryKey" json:"deviceId"`
	DeviceType string `gorm:"column:device_type;size:15;not null" json:"deviceType"`
	OnLoan     bool   `gorm:"->;-:migration" json:"onLoan"`

	Loans []Loan `gorm:"foreignKey:DeviceID;references:ID;constraint:OnDelete:RESTRICT" json:"loans,omitempty"`
}

// Loan is open while ReturnedAt is nil. Closing sets ReturnedAt exactly once.
type Loan struct {
	ID         uint       `gorm:"column:loan_id;primaryKey" json:"loanId"`
	DeviceID   uint       `gorm:"not null;index" json:"deviceId"`
	StudentID  uint       `gorm:"not null;index" json:"studentId"`
	BorrowedAt time.Time  `gorm:"column:borrowdatetime;not null" json:"borrowdatetime"`
	ReturnedAt *time.Time `gorm:"column:returndatetime" json:"returndatetime"`
}

func (l Loan) Open() bool { return l.ReturnedAt == nil }

func (Student) TableName() string { return StudentTable }
func (Device) TableName() string  { return DeviceTable }
func (Loan) TableName() string    { return LoanTable }
