package domain

// Document is a raw record as the document store returns it. Message
// documents use the field names below; stores may carry extra fields, which
// translation ignores.
type Document map[string]any

const (
	FieldID         = "_id"
	FieldClientID   = "clientId"
	FieldRoomID     = "roomId"
	FieldText       = "text"
	FieldCreatedAt  = "createdAt"
	FieldEditedAt   = "editedAt"
	FieldUser       = "user"
	FieldSenderID   = "senderId"
	FieldReceiverID = "receiverId"
	FieldType       = "type"
	FieldImage      = "image"
	FieldAudio      = "audio"
	FieldDuration   = "duration"
	FieldLocation   = "location"
	FieldReplyTo    = "replyTo"
	FieldDelivered  = "delivered"
	FieldRead       = "read"
)

// String returns the string value stored under key, or "".
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Clone returns a shallow copy with nested maps copied one level deep, enough
// for stores that hand documents to callers while keeping their own copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		switch nested := v.(type) {
		case map[string]any:
			cp := make(map[string]any, len(nested))
			for nk, nv := range nested {
				cp[nk] = nv
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
