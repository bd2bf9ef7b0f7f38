// Package mapper translates between local camelCase document fields and
// remote snake_case row columns. Both directions are generated from one
// canonical field list, so they cannot drift apart.
package mapper

import "github.com/AlexKenbo/book-club/internal/model"

// fields lists every key whose name differs between the local document
// and the remote row, as {remote, local} pairs. Keys not listed here
// (id, category, status, name, email, deleted, ...) are identical on
// both sides and pass through untouched.
var fields = [][2]string{
	{"owner_id", "ownerId"},
	{"owner_name", "ownerName"},
	{"image_url", "imageUrl"},
	{"current_borrower_id", "currentBorrowerId"},
	{"current_borrower_name", "currentBorrowerName"},
	{"current_borrower_phone", "currentBorrowerPhone"},
	{"created_at", "createdAt"},
	{"updated_at", "updatedAt"},
	{"book_id", "bookId"},
	{"book_image_url", "bookImageUrl"},
	{"lender_id", "lenderId"},
	{"lender_name", "lenderName"},
	{"lender_phone", "lenderPhone"},
	{"borrower_id", "borrowerId"},
	{"borrower_name", "borrowerName"},
	{"borrower_phone", "borrowerPhone"},
	{"requested_at", "requestedAt"},
	{"phone_number", "phoneNumber"},
	{"avatar_url", "avatarUrl"},
	{"is_public", "isPublic"},
}

var (
	toLocalKeys  = make(map[string]string, len(fields))
	toRemoteKeys = make(map[string]string, len(fields))
)

func init() {
	for _, f := range fields {
		toLocalKeys[f[0]] = f[1]
		toRemoteKeys[f[1]] = f[0]
	}
}

func translate(in map[string]any, keys map[string]string) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if mapped, ok := keys[k]; ok {
			out[mapped] = v
			continue
		}
		out[k] = v
	}
	return out
}

// ToLocal renames the remote row's known snake_case columns to their
// local camelCase names. Unknown keys are preserved as-is.
func ToLocal(row map[string]any) model.Document {
	return translate(row, toLocalKeys)
}

// ToRemote renames the local document's known camelCase fields to their
// remote snake_case names. Unknown keys are preserved as-is.
func ToRemote(doc model.Document) map[string]any {
	return translate(doc, toRemoteKeys)
}
