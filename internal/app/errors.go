package app

import "errors"

var (
	ErrPhoneRequired = errors.New("phone number required")
	ErrPhoneInvalid  = errors.New("phone number invalid")

	// ErrUserNotFound is deliberately distinct from the OTP errors: phone
	// login never auto-creates accounts at verify time.
	ErrUserNotFound = errors.New("user not found")

	ErrOTPRequestInvalid = errors.New("invalid otp request")
	ErrOTPAlreadyUsed    = errors.New("otp code already used")
	ErrOTPExpired        = errors.New("otp code expired")
	ErrOTPCodeInvalid    = errors.New("invalid otp code")
	ErrOTPRateLimited    = errors.New("too many otp requests")

	// ErrInvalidCredentials is shown to end users and must not enable
	// account enumeration.
	ErrInvalidCredentials = errors.New("incorrect email or password")

	ErrEmailAndPasswordRequired = errors.New("email and password required")
	ErrEmailAlreadyExists       = errors.New("email already exists")
	ErrUserInactive             = errors.New("user inactive")

	// ErrNotAuthorized covers records that exist but belong to another
	// user. Absent records stay on the not-found path.
	ErrNotAuthorized = errors.New("not authorized")

	ErrPatientNotFound   = errors.New("patient not found")
	ErrScheduleNotFound  = errors.New("schedule not found")
	ErrDrugNotFound      = errors.New("drug not found")
	ErrFullNameRequired  = errors.New("full name required")
	ErrDosageRequired    = errors.New("dosage and frequency required")
	ErrEmptyImportBatch  = errors.New("import batch is empty")
	ErrImportItemInvalid = errors.New("import item requires a local drug id")
)
