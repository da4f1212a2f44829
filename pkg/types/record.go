package types

import (
	"fmt"
	"strconv"
	"time"
)

// RecordID identifies a medical record. IDs are assigned from a monotonic
// counter starting at 1 and are never reused; 0 is the sentinel for
// "no record" in authorization requests that do not target one.
type RecordID uint64

func (id RecordID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Category classifies a medical record.
type Category string

const (
	CategoryGeneral      Category = "general"
	CategoryLabReport    Category = "lab_report"
	CategoryPrescription Category = "prescription"
	CategoryImaging      Category = "imaging"
	CategoryVaccination  Category = "vaccination"
	CategorySurgery      Category = "surgery"
	CategoryConsultation Category = "consultation"
	CategoryEmergency    Category = "emergency"
	CategoryOther        Category = "other"
)

// AllCategories lists every record category in a stable order.
var AllCategories = []Category{
	CategoryGeneral,
	CategoryLabReport,
	CategoryPrescription,
	CategoryImaging,
	CategoryVaccination,
	CategorySurgery,
	CategoryConsultation,
	CategoryEmergency,
	CategoryOther,
}

// ParseCategory converts a raw string into a Category.
func ParseCategory(raw string) (Category, error) {
	for _, c := range AllCategories {
		if Category(raw) == c {
			return c, nil
		}
	}
	return "", NewValidationError(ErrCodeInvalidCategory,
		fmt.Sprintf("unknown record category %q", raw))
}

// Record represents a medical record entry. The owner is set at creation
// and never changes; content lives in the external content store and is
// referenced by an opaque content identifier.
type Record struct {
	ID          RecordID  `json:"id" db:"id"`
	Owner       Principal `json:"owner" db:"owner"`
	ContentRef  string    `json:"content_ref" db:"content_ref"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	Category    Category  `json:"category" db:"category"`
	Tags        []string  `json:"tags" db:"tags"`
	IsEncrypted bool      `json:"is_encrypted" db:"is_encrypted"`
}

// EmergencyGrant is a time-bounded access grant on a record. IsActive is the
// stored revocation flag; whether the grant currently confers access is the
// derived EffectiveActive, never the stored flag alone.
type EmergencyGrant struct {
	RecordID  RecordID  `json:"record_id" db:"record_id"`
	Contact   Principal `json:"contact" db:"contact"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	IsActive  bool      `json:"is_active" db:"is_active"`
}

// EffectiveActive reports whether the grant confers access at the given
// instant. A grant past its expiry is inactive even if the stored flag was
// never flipped.
func (g EmergencyGrant) EffectiveActive(now time.Time) bool {
	return g.IsActive && now.Before(g.ExpiresAt)
}
