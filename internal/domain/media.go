package domain

import "time"

// MediaObject is an uploaded attachment, fetched back through its public URL.
type MediaObject struct {
	Key         string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}
