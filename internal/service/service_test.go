package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/pkg/auth"

	"github.com/AlexKenbo/book-club/internal/catalog"
	"github.com/AlexKenbo/book-club/internal/errs"
	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/service"
	"github.com/AlexKenbo/book-club/internal/store"
)

var (
	anna  = auth.Identity{UserID: "u-anna", UserName: "Anna"}
	boris = auth.Identity{UserID: "u-boris", UserName: "Boris"}
)

func newService(t *testing.T) *service.Service {
	t.Helper()
	s := store.Open("", zap.NewNop())
	require.NoError(t, catalog.Setup(s))
	return service.NewService(s, zap.NewNop())
}

func TestAddAndListBooks(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, anna, "https://cdn/1.jpg", "Художественные")
	require.NoError(t, err)
	require.NotEmpty(t, book.ID)
	require.Equal(t, model.BookAvailable, book.Status)
	require.Equal(t, anna.UserID, book.OwnerID)
	require.NotEmpty(t, book.UpdatedAt)

	_, err = svc.AddBook(ctx, boris, "https://cdn/2.jpg", "Саморазвитие")
	require.NoError(t, err)

	_, err = svc.AddBook(ctx, anna, "https://cdn/3.jpg", "Detective")
	require.Error(t, err)
	require.True(t, errs.IsValidation(err), "unknown category is rejected")

	mine, err := svc.ListBooks(ctx, anna.UserID, "", "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, book.ID, mine[0].ID)

	free, err := svc.ListBooks(ctx, "", string(model.BookAvailable), "")
	require.NoError(t, err)
	require.Len(t, free, 2)
}

func TestDeleteBookOwnerOnly(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, anna, "x.jpg", "Христианские")
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteBook(ctx, boris, book.ID), errs.ErrForbidden)
	require.NoError(t, svc.DeleteBook(ctx, anna, book.ID))
	_, err = svc.GetBook(ctx, book.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, svc.DeleteBook(ctx, anna, book.ID), errs.ErrNotFound)
}

func TestIssueAndReturnBook(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, anna, "x.jpg", "Художественные")
	require.NoError(t, err)

	_, err = svc.IssueBook(ctx, boris, book.ID, service.Borrower{ID: "u-x", Name: "X"})
	require.ErrorIs(t, err, errs.ErrForbidden)

	issued, err := svc.IssueBook(ctx, anna, book.ID, service.Borrower{ID: boris.UserID, Name: "Boris", Phone: "+7911"})
	require.NoError(t, err)
	require.Equal(t, model.BookBorrowed, issued.Status)
	require.Equal(t, boris.UserID, issued.CurrentBorrowerID)
	require.Equal(t, "+7911", issued.CurrentBorrowerPhone)

	returned, err := svc.ReturnBook(ctx, anna, book.ID)
	require.NoError(t, err)
	require.Equal(t, model.BookAvailable, returned.Status)
	require.Empty(t, returned.CurrentBorrowerID, "borrower fields cleared on return")
	require.Empty(t, returned.CurrentBorrowerName)
}

func TestBorrowRequestFlow(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, anna, "x.jpg", "Художественные")
	require.NoError(t, err)

	// Borrower's phone is denormalized onto the request from the profile.
	_, err = svc.SaveProfile(ctx, boris, model.UserProfile{Name: "Boris", PhoneNumber: "+7922"})
	require.NoError(t, err)

	_, err = svc.CreateRequest(ctx, anna, book.ID)
	require.ErrorIs(t, err, errs.ErrForbidden, "cannot request own book")

	req, err := svc.CreateRequest(ctx, boris, book.ID)
	require.NoError(t, err)
	require.Equal(t, model.RequestPending, req.Status)
	require.Equal(t, anna.UserID, req.LenderID)
	require.Equal(t, "+7922", req.BorrowerPhone)

	// At most one pending request per (book, borrower) pair.
	_, err = svc.CreateRequest(ctx, boris, book.ID)
	require.ErrorIs(t, err, errs.ErrPendingExists)

	_, err = svc.ApproveRequest(ctx, boris, req.ID)
	require.ErrorIs(t, err, errs.ErrForbidden, "only the lender decides")

	approved, err := svc.ApproveRequest(ctx, anna, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.RequestApproved, approved.Status)

	// Approval denormalizes the borrower onto the book.
	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, model.BookBorrowed, got.Status)
	require.Equal(t, boris.UserID, got.CurrentBorrowerID)

	_, err = svc.ApproveRequest(ctx, anna, req.ID)
	require.ErrorIs(t, err, errs.ErrNotPending, "decision is final")

	// Returning the book closes the approved request.
	_, err = svc.ReturnBook(ctx, anna, book.ID)
	require.NoError(t, err)
	reqs, err := svc.ListRequests(ctx, boris.UserID, "borrower")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, model.RequestReturned, reqs[0].Status)

	// The pair may open a fresh request afterwards.
	_, err = svc.CreateRequest(ctx, boris, book.ID)
	require.NoError(t, err)
}

func TestRejectAndCancelRequest(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()

	book, err := svc.AddBook(ctx, anna, "x.jpg", "Саморазвитие")
	require.NoError(t, err)

	req, err := svc.CreateRequest(ctx, boris, book.ID)
	require.NoError(t, err)

	rejected, err := svc.RejectRequest(ctx, anna, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.RequestRejected, rejected.Status)

	// Rejection leaves the book untouched.
	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	require.Equal(t, model.BookAvailable, got.Status)

	req2, err := svc.CreateRequest(ctx, boris, book.ID)
	require.NoError(t, err)
	require.ErrorIs(t, svc.CancelRequest(ctx, anna, req2.ID), errs.ErrForbidden, "only the borrower cancels")
	require.NoError(t, svc.CancelRequest(ctx, boris, req2.ID))

	reqs, err := svc.ListRequests(ctx, anna.UserID, "lender")
	require.NoError(t, err)
	require.Len(t, reqs, 1, "cancelled request is gone, rejected one remains")
}

func TestSaveProfileForcesOwnID(t *testing.T) {
	t.Parallel()
	svc := newService(t)
	ctx := context.Background()

	saved, err := svc.SaveProfile(ctx, anna, model.UserProfile{
		ID:          "someone-else",
		Name:        "Anna K",
		PhoneNumber: "+7900",
		IsPublic:    true,
	})
	require.NoError(t, err)
	require.Equal(t, anna.UserID, saved.ID, "profile id always equals the caller")

	got, err := svc.GetProfile(ctx, anna.UserID)
	require.NoError(t, err)
	require.Equal(t, "+7900", got.PhoneNumber)

	_, err = svc.GetProfile(ctx, "someone-else")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
