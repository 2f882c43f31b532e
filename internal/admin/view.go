// Package admin holds the view state of the admin panel: which screen is open,
// which item is being edited, and the in-memory item list mirrored from storage.
package admin

import (
	"encoding/json"
	"fmt"
)

// View is one of the panel screens.
type View uint8

const (
	ViewDashboard View = iota
	// ViewUpload creates an item, or edits the selected one.
	ViewUpload
	ViewAIGenerator
	ViewAPIPreview
	ViewSettings
)

var viewNames = [...]string{
	ViewDashboard:   "dashboard",
	ViewUpload:      "upload",
	ViewAIGenerator: "ai-generator",
	ViewAPIPreview:  "api-preview",
	ViewSettings:    "settings",
}

// Valid reports whether v is a known view.
func (v View) Valid() bool { return int(v) < len(viewNames) }

func (v View) String() string {
	if !v.Valid() {
		return fmt.Sprintf("View(%d)", v)
	}
	return viewNames[v]
}

// ParseView converts a view name into a View.
func ParseView(s string) (View, error) {
	for i, name := range viewNames {
		if name == s {
			return View(i), nil
		}
	}
	return 0, fmt.Errorf("unknown view %q", s)
}

func (v View) MarshalJSON() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("unknown view %d", v)
	}
	return json.Marshal(v.String())
}

func (v *View) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseView(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
