package models

import "time"

// Render flattens m into the attribute map returned by metadata lookups.
// Storage location is never included; optional fields are present only when set.
func Render(m Media) map[string]any {
	base := m.Base()
	attrs := map[string]any{
		"id":           base.ID,
		"name":         base.Name,
		"kind":         string(m.Kind()),
		"subtype":      string(base.Subtype),
		"content_type": ContentTypeOf(m),
		"loaded_at":    base.LoadedAt.UTC().Format(time.RFC3339Nano),
		"hash":         base.FileHash,
	}
	if base.Info != nil {
		attrs["size"] = base.Info.Size
	}

	switch v := m.(type) {
	case *Audio:
		putDuration(attrs, v.Duration)
		putString(attrs, "artist", v.Artist)
		putString(attrs, "album", v.Album)
		putString(attrs, "track", v.Track)
	case *Image:
		putResolution(attrs, v.Resolution)
		if v.PreviewID != nil {
			attrs["preview_id"] = *v.PreviewID
		}
	case *Video:
		putResolution(attrs, v.Resolution)
		putDuration(attrs, v.Duration)
		if v.PreviewID != nil {
			attrs["preview_id"] = *v.PreviewID
		}
	case *Preview:
		putResolution(attrs, v.Resolution)
	}

	return attrs
}

func putString(attrs map[string]any, key string, value *string) {
	if value != nil {
		attrs[key] = *value
	}
}

// duration is rendered in seconds
func putDuration(attrs map[string]any, d *time.Duration) {
	if d != nil {
		attrs["duration"] = d.Seconds()
	}
}

func putResolution(attrs map[string]any, r *Resolution) {
	if r != nil {
		attrs["width"] = r.Width
		attrs["height"] = r.Height
	}
}
