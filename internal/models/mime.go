package models

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jorektheglitch/simplefiles/internal/common"
)

// MIMEType is the top-level type of a declared content type
type MIMEType string

const (
	MIMEApplication MIMEType = "application"
	MIMEAudio       MIMEType = "audio"
	MIMEChemical    MIMEType = "chemical"
	MIMEFont        MIMEType = "font"
	MIMEImage       MIMEType = "image"
	MIMEVideo       MIMEType = "video"
)

var mimeTypes = []MIMEType{MIMEApplication, MIMEAudio, MIMEChemical, MIMEFont, MIMEImage, MIMEVideo}

// Kind maps a MIME type onto the catalog discriminant.
// chemical and font uploads are cataloged as generic files.
func (t MIMEType) Kind() Kind {
	switch t {
	case MIMEAudio:
		return KindAudio
	case MIMEImage:
		return KindImage
	case MIMEVideo:
		return KindVideo
	default:
		return KindApplication
	}
}

// Kind is the discriminant of a media record. It is fixed at creation.
type Kind string

const (
	KindApplication Kind = "application"
	KindAudio       Kind = "audio"
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
)

// Kinds lists every discriminant value
var Kinds = []Kind{KindApplication, KindAudio, KindImage, KindVideo}

// Valid reports whether k is one of Kinds
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// Subtype is a kind-scoped MIME subtype
type Subtype string

const (
	SubtypeMPEG Subtype = "mpeg"
	SubtypeOGG  Subtype = "ogg"
	SubtypeJPEG Subtype = "jpeg"
	SubtypePNG  Subtype = "png"
	SubtypeWEBP Subtype = "webp"
	SubtypeMP4  Subtype = "mp4"
)

// closedSubtypes holds the enumerations of kinds whose subtype is not free-form.
var closedSubtypes = map[Kind][]Subtype{
	KindAudio: {SubtypeMPEG, SubtypeOGG},
	KindImage: {SubtypeJPEG, SubtypePNG},
	KindVideo: {SubtypeMP4, SubtypeMPEG, SubtypeOGG},
}

// KnownFor reports whether s belongs to the closed enumeration of kind.
// Application subtypes are free-form, so it is always false for them.
func (s Subtype) KnownFor(kind Kind) bool {
	return slices.Contains(closedSubtypes[kind], s)
}

// ContentType is a parsed "type/subtype" string
type ContentType struct {
	Type    MIMEType
	Kind    Kind
	Subtype Subtype
	// Recognized is set when the subtype matched the closed enumeration of Kind.
	Recognized bool
}

// String returns the catalog form "kind/subtype"
func (c ContentType) String() string {
	return string(c.Kind) + "/" + string(c.Subtype)
}

// ParseContentType parses a declared content type of the form "type/subtype".
//
// Parameters after ";" are ignored. The type must be one of application, audio,
// chemical, font, image or video. A subtype outside the closed enumeration of
// audio, image and video is kept verbatim rather than rejected.
func ParseContentType(s string) (ContentType, error) {
	value, _, _ := strings.Cut(s, ";")
	value = strings.TrimSpace(value)

	typeStr, subtypeStr, ok := strings.Cut(value, "/")
	if !ok || typeStr == "" || subtypeStr == "" {
		return ContentType{}, fmt.Errorf("%w: %q is not valid MIME type", common.ErrValidation, s)
	}

	mimeType := MIMEType(strings.ToLower(typeStr))
	if !slices.Contains(mimeTypes, mimeType) {
		return ContentType{}, fmt.Errorf("%w %q", common.ErrUnknownMediaType, typeStr)
	}

	ct := ContentType{
		Type:    mimeType,
		Kind:    mimeType.Kind(),
		Subtype: Subtype(subtypeStr),
	}
	if lowered := Subtype(strings.ToLower(subtypeStr)); lowered.KnownFor(ct.Kind) {
		ct.Subtype = lowered
		ct.Recognized = true
	}

	return ct, nil
}
