package model

import (
	"encoding/json"
	"time"
)

// Document is the local shape of one stored row: camelCase keys,
// primitive values. Unknown keys survive round-trips untouched.
type Document map[string]any

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	cp := make(Document, len(d))
	for k, v := range d {
		cp[k] = v
	}
	return cp
}

// ID returns the primary key, or "" when absent.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// String fetches a string field, or "" when absent or not a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// TimeFormat is the modification-timestamp layout: fixed-width
// microsecond UTC ISO-8601, so lexicographic order equals chronological
// order and precision matches Postgres timestamptz.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// Now returns the current wall-clock time in TimeFormat.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

type BookStatus string

const (
	BookAvailable BookStatus = "свободна"
	BookBorrowed  BookStatus = "у кого-то"
	BookReserved  BookStatus = "забронирована"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "ожидает"
	RequestApproved RequestStatus = "одобрено"
	RequestRejected RequestStatus = "отклонено"
	RequestReturned RequestStatus = "возвращено"
)

var BookCategories = []string{"Христианские", "Художественные", "Саморазвитие"}

// Book is one physical copy owned by a user.
type Book struct {
	ID                   string     `json:"id"`
	OwnerID              string     `json:"ownerId"`
	OwnerName            string     `json:"ownerName,omitempty"`
	ImageURL             string     `json:"imageUrl"`
	Category             string     `json:"category"`
	Status               BookStatus `json:"status"`
	CurrentBorrowerID    string     `json:"currentBorrowerId,omitempty"`
	CurrentBorrowerName  string     `json:"currentBorrowerName,omitempty"`
	CurrentBorrowerPhone string     `json:"currentBorrowerPhone,omitempty"`
	CreatedAt            int64      `json:"createdAt"`
	UpdatedAt            string     `json:"updatedAt,omitempty"`
}

// BorrowRequest is one borrow negotiation over one book.
type BorrowRequest struct {
	ID            string        `json:"id"`
	BookID        string        `json:"bookId"`
	BookImageURL  string        `json:"bookImageUrl,omitempty"`
	LenderID      string        `json:"lenderId"`
	LenderName    string        `json:"lenderName,omitempty"`
	LenderPhone   string        `json:"lenderPhone,omitempty"`
	BorrowerID    string        `json:"borrowerId"`
	BorrowerName  string        `json:"borrowerName,omitempty"`
	BorrowerPhone string        `json:"borrowerPhone,omitempty"`
	Status        RequestStatus `json:"status"`
	RequestedAt   int64         `json:"requestedAt"`
	UpdatedAt     string        `json:"updatedAt,omitempty"`
}

// UserProfile is a person known to the catalog.
type UserProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	IsPublic    bool   `json:"isPublic"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// ToDocument converts a typed entity into its document form.
func ToDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// FromDocument converts a document into the typed entity pointed to by v.
func FromDocument(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Checkpoint marks replication progress for one collection: the
// (modifiedAt, id) of the last applied remote row.
type Checkpoint struct {
	LastID         string `json:"lastId"`
	LastModifiedAt string `json:"lastModifiedAt"`
}

// Less reports whether c precedes other in (modifiedAt, id) tie-break
// order. Timestamps compare lexicographically, which TimeFormat makes
// equivalent to chronological order.
func (c Checkpoint) Less(other Checkpoint) bool {
	if c.LastModifiedAt != other.LastModifiedAt {
		return c.LastModifiedAt < other.LastModifiedAt
	}
	return c.LastID < other.LastID
}

// IsZero reports whether the checkpoint is the initial full-sync state.
func (c Checkpoint) IsZero() bool {
	return c.LastID == "" && c.LastModifiedAt == ""
}
