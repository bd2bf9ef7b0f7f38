// Package service implements the catalog operations on top of the
// document store. Every mutation is local and synchronous; replication
// propagates it in the background.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/pkg/auth"

	"github.com/AlexKenbo/book-club/internal/catalog"
	"github.com/AlexKenbo/book-club/internal/errs"
	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/store"
)

type Service struct {
	log      *zap.Logger
	books    *store.Collection
	requests *store.Collection
	profiles *store.Collection
}

func NewService(s *store.Store, log *zap.Logger) *Service {
	return &Service{
		log:      log.Named("service"),
		books:    s.Collection(catalog.Books),
		requests: s.Collection(catalog.Requests),
		profiles: s.Collection(catalog.Profiles),
	}
}

// Borrower identifies the person a book is issued to.
type Borrower struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone"`
}

func (s *Service) AddBook(ctx context.Context, user auth.Identity, imageURL, category string) (model.Book, error) {
	if !validCategory(category) {
		return model.Book{}, &errs.ValidationError{Collection: catalog.Books, Field: "category", Reason: "unknown category"}
	}
	book := model.Book{
		ID:        uuid.NewString(),
		OwnerID:   user.UserID,
		OwnerName: user.UserName,
		ImageURL:  imageURL,
		Category:  category,
		Status:    model.BookAvailable,
		CreatedAt: time.Now().UnixMilli(),
	}
	doc, err := model.ToDocument(book)
	if err != nil {
		return model.Book{}, err
	}
	inserted, err := s.books.Insert(doc)
	if err != nil {
		return model.Book{}, err
	}
	err = model.FromDocument(inserted, &book)
	return book, err
}

func validCategory(category string) bool {
	for _, c := range model.BookCategories {
		if c == category {
			return true
		}
	}
	return false
}

func (s *Service) GetBook(ctx context.Context, id string) (model.Book, error) {
	doc, ok := s.books.FindOne(id)
	if !ok {
		return model.Book{}, errs.ErrNotFound
	}
	var book model.Book
	err := model.FromDocument(doc, &book)
	return book, err
}

// ListBooks filters by any combination of owner, status and category.
func (s *Service) ListBooks(ctx context.Context, ownerID, status, category string) ([]model.Book, error) {
	sel := store.Selector{}
	if ownerID != "" {
		sel["ownerId"] = ownerID
	}
	if status != "" {
		sel["status"] = status
	}
	if category != "" {
		sel["category"] = category
	}
	docs := s.books.Find(sel, &store.Sort{Field: "createdAt", Desc: true})
	books := make([]model.Book, 0, len(docs))
	for _, doc := range docs {
		var b model.Book
		if err := model.FromDocument(doc, &b); err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, nil
}

func (s *Service) DeleteBook(ctx context.Context, user auth.Identity, id string) error {
	book, err := s.GetBook(ctx, id)
	if err != nil {
		return err
	}
	if book.OwnerID != user.UserID {
		return errs.ErrForbidden
	}
	return s.books.Remove(id)
}

// IssueBook hands a copy out directly, outside the request flow.
func (s *Service) IssueBook(ctx context.Context, user auth.Identity, id string, to Borrower) (model.Book, error) {
	book, err := s.GetBook(ctx, id)
	if err != nil {
		return model.Book{}, err
	}
	if book.OwnerID != user.UserID {
		return model.Book{}, errs.ErrForbidden
	}
	doc, err := s.books.Patch(id, model.Document{
		"status":               string(model.BookBorrowed),
		"currentBorrowerId":    to.ID,
		"currentBorrowerName":  to.Name,
		"currentBorrowerPhone": to.Phone,
	})
	if err != nil {
		return model.Book{}, err
	}
	err = model.FromDocument(doc, &book)
	return book, err
}

// ReturnBook makes the copy available again and closes the approved
// request for the returning borrower, if one exists.
func (s *Service) ReturnBook(ctx context.Context, user auth.Identity, id string) (model.Book, error) {
	book, err := s.GetBook(ctx, id)
	if err != nil {
		return model.Book{}, err
	}
	if book.OwnerID != user.UserID {
		return model.Book{}, errs.ErrForbidden
	}

	doc, err := s.books.Patch(id, model.Document{
		"status":               string(model.BookAvailable),
		"currentBorrowerId":    nil,
		"currentBorrowerName":  nil,
		"currentBorrowerPhone": nil,
	})
	if err != nil {
		return model.Book{}, err
	}

	if book.CurrentBorrowerID != "" {
		sel := store.Selector{
			"bookId":     id,
			"borrowerId": book.CurrentBorrowerID,
			"status":     string(model.RequestApproved),
		}
		for _, req := range s.requests.Find(sel, nil) {
			if _, err := s.requests.Patch(req.ID(), model.Document{"status": string(model.RequestReturned)}); err != nil {
				s.log.Warn("close approved request", zap.String("request", req.ID()), zap.Error(err))
			}
		}
	}

	var out model.Book
	err = model.FromDocument(doc, &out)
	return out, err
}

// CreateRequest opens a borrow negotiation. At most one pending request
// may exist per (book, borrower) pair; the guard is a query before
// insert, not a schema constraint.
func (s *Service) CreateRequest(ctx context.Context, user auth.Identity, bookID string) (model.BorrowRequest, error) {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return model.BorrowRequest{}, err
	}
	if book.OwnerID == user.UserID {
		return model.BorrowRequest{}, errs.ErrForbidden
	}

	pending := store.Selector{
		"bookId":     bookID,
		"borrowerId": user.UserID,
		"status":     string(model.RequestPending),
	}
	if s.requests.Count(pending) > 0 {
		return model.BorrowRequest{}, errs.ErrPendingExists
	}

	req := model.BorrowRequest{
		ID:            uuid.NewString(),
		BookID:        bookID,
		BookImageURL:  book.ImageURL,
		LenderID:      book.OwnerID,
		LenderName:    book.OwnerName,
		LenderPhone:   s.profilePhone(book.OwnerID),
		BorrowerID:    user.UserID,
		BorrowerName:  user.UserName,
		BorrowerPhone: s.profilePhone(user.UserID),
		Status:        model.RequestPending,
		RequestedAt:   time.Now().UnixMilli(),
	}
	doc, err := model.ToDocument(req)
	if err != nil {
		return model.BorrowRequest{}, err
	}
	inserted, err := s.requests.Insert(doc)
	if err != nil {
		return model.BorrowRequest{}, err
	}
	err = model.FromDocument(inserted, &req)
	return req, err
}

func (s *Service) profilePhone(userID string) string {
	doc, ok := s.profiles.FindOne(userID)
	if !ok {
		return ""
	}
	return doc.String("phoneNumber")
}

func (s *Service) getRequest(id string) (model.BorrowRequest, error) {
	doc, ok := s.requests.FindOne(id)
	if !ok {
		return model.BorrowRequest{}, errs.ErrNotFound
	}
	var req model.BorrowRequest
	err := model.FromDocument(doc, &req)
	return req, err
}

// ApproveRequest moves the request to approved and the book to
// borrowed, denormalizing the borrower onto the book.
func (s *Service) ApproveRequest(ctx context.Context, user auth.Identity, id string) (model.BorrowRequest, error) {
	req, err := s.getRequest(id)
	if err != nil {
		return model.BorrowRequest{}, err
	}
	if req.LenderID != user.UserID {
		return model.BorrowRequest{}, errs.ErrForbidden
	}
	if req.Status != model.RequestPending {
		return model.BorrowRequest{}, errs.ErrNotPending
	}

	doc, err := s.requests.Patch(id, model.Document{"status": string(model.RequestApproved)})
	if err != nil {
		return model.BorrowRequest{}, err
	}
	if _, err := s.books.Patch(req.BookID, model.Document{
		"status":               string(model.BookBorrowed),
		"currentBorrowerId":    req.BorrowerID,
		"currentBorrowerName":  req.BorrowerName,
		"currentBorrowerPhone": req.BorrowerPhone,
	}); err != nil {
		return model.BorrowRequest{}, err
	}

	err = model.FromDocument(doc, &req)
	return req, err
}

func (s *Service) RejectRequest(ctx context.Context, user auth.Identity, id string) (model.BorrowRequest, error) {
	req, err := s.getRequest(id)
	if err != nil {
		return model.BorrowRequest{}, err
	}
	if req.LenderID != user.UserID {
		return model.BorrowRequest{}, errs.ErrForbidden
	}
	if req.Status != model.RequestPending {
		return model.BorrowRequest{}, errs.ErrNotPending
	}
	doc, err := s.requests.Patch(id, model.Document{"status": string(model.RequestRejected)})
	if err != nil {
		return model.BorrowRequest{}, err
	}
	err = model.FromDocument(doc, &req)
	return req, err
}

// CancelRequest is a borrower-side hard delete, not a tombstoned soft
// delete state.
func (s *Service) CancelRequest(ctx context.Context, user auth.Identity, id string) error {
	req, err := s.getRequest(id)
	if err != nil {
		return err
	}
	if req.BorrowerID != user.UserID {
		return errs.ErrForbidden
	}
	return s.requests.Remove(id)
}

// ListRequests returns requests where the user is the lender or the
// borrower, newest first.
func (s *Service) ListRequests(ctx context.Context, userID, role string) ([]model.BorrowRequest, error) {
	field := "borrowerId"
	if role == "lender" {
		field = "lenderId"
	}
	docs := s.requests.Find(store.Selector{field: userID}, &store.Sort{Field: "requestedAt", Desc: true})
	reqs := make([]model.BorrowRequest, 0, len(docs))
	for _, doc := range docs {
		var r model.BorrowRequest
		if err := model.FromDocument(doc, &r); err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

func (s *Service) GetProfile(ctx context.Context, id string) (model.UserProfile, error) {
	doc, ok := s.profiles.FindOne(id)
	if !ok {
		return model.UserProfile{}, errs.ErrNotFound
	}
	var p model.UserProfile
	err := model.FromDocument(doc, &p)
	return p, err
}

// SaveProfile upserts the caller's own profile. The id always equals
// the auth identity.
func (s *Service) SaveProfile(ctx context.Context, user auth.Identity, p model.UserProfile) (model.UserProfile, error) {
	p.ID = user.UserID
	if p.Name == "" {
		p.Name = user.UserName
	}
	doc, err := model.ToDocument(p)
	if err != nil {
		return model.UserProfile{}, err
	}
	saved, err := s.profiles.Upsert(doc)
	if err != nil {
		return model.UserProfile{}, err
	}
	err = model.FromDocument(saved, &p)
	return p, err
}

// WatchBooks exposes a live query over books for streaming consumers.
func (s *Service) WatchBooks(ownerID string, cb func([]model.Document)) *store.Subscription {
	sel := store.Selector{}
	if ownerID != "" {
		sel["ownerId"] = ownerID
	}
	return s.books.Subscribe(sel, &store.Sort{Field: "createdAt", Desc: true}, cb)
}
