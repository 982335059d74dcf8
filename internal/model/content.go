package model

// ContentKind identifies how a content unit is analyzed.
type ContentKind string

const (
	ContentHTML  ContentKind = "html"
	ContentImage ContentKind = "image"
)

// SizeHint records what the URL classifier concluded about an image URL.
type SizeHint string

const (
	SizeThumbnail SizeHint = "thumbnail"
	SizeFullSize  SizeHint = "full_size"
	SizeUnknown   SizeHint = "unknown"
)

// ContentUnit is one piece of content discovered from a seed URL. Units are
// immutable once emitted by discovery.
type ContentUnit struct {
	URL      string      `json:"url"`
	Kind     ContentKind `json:"kind"`
	SizeHint SizeHint    `json:"size_hint"`
	// Seq is the discovery order within a run; lower is seen earlier.
	Seq int `json:"seq"`
}
