package domain

import "fmt"

// AdminLevel is the depth of a location in the administrative hierarchy.
type AdminLevel int

const (
	AdminCountry    AdminLevel = 0
	AdminState      AdminLevel = 1
	AdminLocality   AdminLevel = 2
	AdminSettlement AdminLevel = 3
)

func (l AdminLevel) String() string {
	switch l {
	case AdminCountry:
		return "country"
	case AdminState:
		return "state"
	case AdminLocality:
		return "locality"
	case AdminSettlement:
		return "settlement"
	default:
		return fmt.Sprintf("adm%d", int(l))
	}
}

// Location is a canonical place record. ParentID links it to the next level up;
// the chain always ends at a country (ParentID == "").
type Location struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	AdminLevel AdminLevel `json:"admin_level"`
	ParentID   string     `json:"parent_id,omitempty"`
	Code       string     `json:"code,omitempty"`
}

// IsZero reports whether l is the empty location.
func (l Location) IsZero() bool {
	return l.ID == ""
}

// GazetteerEntry maps one provider-specific place name to a canonical location.
// Several entries may point at the same location.
type GazetteerEntry struct {
	Name       string `json:"name"`
	Source     string `json:"source"`
	LocationID string `json:"location_id"`
	Code       string `json:"code,omitempty"`
}
