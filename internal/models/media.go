package models

import (
	"fmt"
	"time"
)

// Media is a cataloged upload. It is a closed sum over *File, *Audio, *Image,
// *Video and *Preview; the concrete type is selected by Kind and never changes.
type Media interface {
	Base() *MediaBase
	Kind() Kind
	media()
}

// MediaBase holds the attributes shared by every media shape
type MediaBase struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Subtype  Subtype   `json:"subtype"`
	LoadedAt time.Time `json:"loadedAt"`
	FileHash string    `json:"hash"`
	// Info is populated by the catalog on resolve; Create only needs FileHash.
	Info *FileInfo `json:"-"`
}

// Base returns the shared attributes of the record
func (b *MediaBase) Base() *MediaBase { return b }

func (*MediaBase) media() {}

// Resolution is the pixel size of an image or a video
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// File is an application/* upload. Its subtype is free-form.
type File struct {
	MediaBase
}

// Kind returns KindApplication
func (*File) Kind() Kind { return KindApplication }

// Audio is an audio/* upload
type Audio struct {
	MediaBase
	Duration *time.Duration
	Artist   *string
	Album    *string
	Track    *string
}

// Kind returns KindAudio
func (*Audio) Kind() Kind { return KindAudio }

// Image is an image/* upload
type Image struct {
	MediaBase
	Resolution *Resolution
	PreviewID  *int64
}

// Kind returns KindImage
func (*Image) Kind() Kind { return KindImage }

// Video is a video/* upload
type Video struct {
	MediaBase
	Resolution *Resolution
	Duration   *time.Duration
	PreviewID  *int64
}

// Kind returns KindVideo
func (*Video) Kind() Kind { return KindVideo }

// Preview is a derived thumbnail. It is stored as an image row with subtype webp.
type Preview struct {
	MediaBase
	Resolution *Resolution
}

// Kind returns KindImage
func (*Preview) Kind() Kind { return KindImage }

// Attributes carries the optional kind-specific fields of a new media record.
// Fields that do not apply to the target kind are ignored.
type Attributes struct {
	Duration   *time.Duration
	Artist     *string
	Album      *string
	Track      *string
	Resolution *Resolution
	PreviewID  *int64
}

// NewMedia builds the shape selected by kind around base
func NewMedia(kind Kind, base MediaBase, attrs Attributes) (Media, error) {
	switch kind {
	case KindApplication:
		return &File{MediaBase: base}, nil
	case KindAudio:
		return &Audio{
			MediaBase: base,
			Duration:  attrs.Duration,
			Artist:    attrs.Artist,
			Album:     attrs.Album,
			Track:     attrs.Track,
		}, nil
	case KindImage:
		return &Image{
			MediaBase:  base,
			Resolution: attrs.Resolution,
			PreviewID:  attrs.PreviewID,
		}, nil
	case KindVideo:
		return &Video{
			MediaBase:  base,
			Resolution: attrs.Resolution,
			Duration:   attrs.Duration,
			PreviewID:  attrs.PreviewID,
		}, nil
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
}

// NewPreview narrows an image record to a preview.
// It fails unless the image subtype is webp.
func NewPreview(img *Image) (*Preview, error) {
	if img.Subtype != SubtypeWEBP {
		return nil, fmt.Errorf("media %d is image/%s, previews must be image/%s", img.ID, img.Subtype, SubtypeWEBP)
	}
	return &Preview{MediaBase: img.MediaBase, Resolution: img.Resolution}, nil
}

// ContentTypeOf returns the "kind/subtype" string used when serving m
func ContentTypeOf(m Media) string {
	return string(m.Kind()) + "/" + string(m.Base().Subtype)
}
