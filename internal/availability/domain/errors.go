package domain

import "errors"

var (
	ErrInvalidInterval     = errors.New("interval end must be after start")
	ErrInvalidWindow       = errors.New("window end must be after window start")
	ErrInvalidSlotDuration = errors.New("slot duration must be positive")
	ErrUnknownResource     = errors.New("unknown resource")
	ErrUnknownPreset       = errors.New("unknown date range preset")
	ErrInvalidGranularity  = errors.New("invalid granularity")
	ErrInvalidWorkingHours = errors.New("working hours close must be after open")
	ErrInvalidIdentity     = errors.New("invalid calendar identity")

	// ErrProviderUnauthorized is wrapped by calendar providers when the
	// remote side rejects the stored credentials.
	ErrProviderUnauthorized = errors.New("calendar provider rejected credentials")
	// ErrNoCredentials means no credentials are stored for an identity.
	ErrNoCredentials = errors.New("no credentials for calendar identity")
)
