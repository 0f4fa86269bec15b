// Package layer holds the shared data model of the basemap pipeline:
// source descriptors, fetched datasets and the assembled composition.
package layer

import (
	"strings"

	"github.com/peterstace/simplefeatures/geom"
)

// Role is the semantic role a dataset plays in the finished basemap. It
// selects both the style rule and, via the source catalogue, the stacking
// position.
type Role string

const (
	RoleCommuneBoundary Role = "commune-boundary"
	RoleParcels         Role = "parcels"
	RoleWaterSurface    Role = "water-surface"
	RoleRivers          Role = "rivers"
	RoleVegetation      Role = "vegetation"
	RoleRailways        Role = "railways"
	RoleRoads           Role = "roads"
	RoleBuildings       Role = "buildings"
	RoleEstablishments  Role = "establishments"
)

// Kind says how a source is retrieved.
type Kind string

const (
	KindFeatureService Kind = "feature-service"
	KindBulkExtract    Kind = "bulk-extract"
)

// SourceSpec is the static descriptor for one dataset to load. The
// ordered SourceSpec list is the pipeline configuration; list order is
// display order, bottom to top.
type SourceSpec struct {
	ID          string `yaml:"id"`
	Role        Role   `yaml:"role"`
	Kind        Kind   `yaml:"kind"`
	TypeName    string `yaml:"typename,omitempty"` // WFS feature type, feature-service only
	DisplayName string `yaml:"name"`
}

// Record is one geometry plus its descriptive attributes, already
// converted from whatever loosely-typed form the source used.
type Record struct {
	Geometry geom.Geometry
	Attrs    map[string]string
}

// Attr returns the named attribute, matching keys case-insensitively.
func (r Record) Attr(name string) (string, bool) {
	if v, ok := r.Attrs[name]; ok {
		return v, true
	}
	for k, v := range r.Attrs {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Dataset is a sequence of records from one source. The zero value is a
// valid empty dataset; empty is a terminal state, not an error.
type Dataset struct {
	Records []Record
}

// Empty reports whether the dataset holds no records.
func (d Dataset) Empty() bool { return len(d.Records) == 0 }

// Len returns the record count.
func (d Dataset) Len() int { return len(d.Records) }

// Entry is one positioned, named, optionally styled dataset inside a
// composition.
type Entry struct {
	Spec    SourceSpec
	Name    string
	Dataset Dataset
	Style   *StyleRule
}

// Composition is the single artifact handed to the save collaborator: the
// group name plus the ordered layer entries, bottom to top.
type Composition struct {
	GroupName string
	Entries   []Entry
}

// StyleRule carries the rendering parameters for one role. A zero Width /
// PointSize / empty colour means "not applicable" for that geometry kind.
type StyleRule struct {
	FillColor   string  `yaml:"fill,omitempty" json:"fill,omitempty"`
	StrokeColor string  `yaml:"stroke,omitempty" json:"stroke,omitempty"`
	StrokeWidth float64 `yaml:"stroke_width,omitempty" json:"stroke_width,omitempty"`
	PointSize   float64 `yaml:"point_size,omitempty" json:"point_size,omitempty"`
	DashPattern string  `yaml:"dash,omitempty" json:"dash,omitempty"`

	// Optional attribute-driven stroke width classification. When the
	// attribute is absent on a record the uniform StrokeWidth applies.
	WidthByAttr *WidthClassification `yaml:"width_by_attr,omitempty" json:"width_by_attr,omitempty"`
}

// WidthClassification varies stroke width by the value of one attribute.
type WidthClassification struct {
	Attribute string             `yaml:"attribute" json:"attribute"`
	Widths    map[string]float64 `yaml:"widths" json:"widths"`
}

// SanitizeGroupName turns a commune display name into a label safe for
// group and file names.
func SanitizeGroupName(name string) string {
	name = strings.TrimSpace(name)
	return strings.ReplaceAll(name, " ", "_")
}
