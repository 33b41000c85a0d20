package types

import (
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	return isValidID(userID)
}

// IsValidEntityID checks class/module/step/session identifiers
func IsValidEntityID(id string) bool {
	return isValidID(id)
}

func isValidID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return idRegex.MatchString(id)
}

// Validate checks scope shape
func (s Scope) Validate() error {
	if s.Kind != ScopeModule && s.Kind != ScopeClass {
		return ErrInvalidScope
	}
	if !IsValidEntityID(s.ID) {
		return ErrInvalidScope
	}
	return nil
}

// ValidSlide reports whether n is inside 1..total
func ValidSlide(n, total int) bool {
	return n >= 1 && n <= total
}

// Validate ensures the session row satisfies its invariants
func (s *PresentationSession) Validate() error {
	if err := s.Scope().Validate(); err != nil {
		return err
	}
	if !IsValidUserID(s.InstructorID) {
		return ErrInvalidUserID
	}
	if len(s.SessionName) > 200 {
		return ErrInvalidSessionName
	}
	if s.TotalSlides < 1 {
		return ErrInvalidTotalSlides
	}
	if !ValidSlide(s.CurrentSlide, s.TotalSlides) {
		return ErrInvalidSlide
	}
	return nil
}

// Validate ensures the unit switch carries a usable slide range
func (u UnitSwitch) Validate() error {
	if u.TotalSlides < 1 {
		return ErrInvalidTotalSlides
	}
	if !ValidSlide(u.StartSlide, u.TotalSlides) {
		return ErrInvalidSlide
	}
	return nil
}
