package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/pkg/auth"
	"github.com/AlexKenbo/book-club/pkg/validate"

	"github.com/AlexKenbo/book-club/internal/errs"
	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/service"
	"github.com/AlexKenbo/book-club/internal/upload"
)

type Handler struct {
	svc      *service.Service
	uploader upload.Uploader
	log      *zap.Logger
}

func New(svc *service.Service, uploader upload.Uploader, log *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		uploader: uploader,
		log:      log,
	}
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", newRateLimiterMW(baseRPS))
	base.GET("/manage/health", h.Health)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(requestLoggerConfig(h.log)),
		middleware.RequestID(),
		newRateLimiterMW(apiRPS),
	)

	api.GET("/books", h.ListBooks)
	api.GET("/books/:id", h.GetBook)
	api.GET("/books/watch", h.WatchBooks)
	api.POST("/books", h.AddBook, AuthContext)
	api.DELETE("/books/:id", h.DeleteBook, AuthContext)
	api.POST("/books/:id/issue", h.IssueBook, AuthContext)
	api.POST("/books/:id/return", h.ReturnBook, AuthContext)

	api.GET("/requests", h.ListRequests, AuthContext)
	api.POST("/requests", h.CreateRequest, AuthContext)
	api.POST("/requests/:id/approve", h.ApproveRequest, AuthContext)
	api.POST("/requests/:id/reject", h.RejectRequest, AuthContext)
	api.DELETE("/requests/:id", h.CancelRequest, AuthContext)

	api.GET("/profile", h.GetProfile, AuthContext)
	api.PUT("/profile", h.SaveProfile, AuthContext)

	api.POST("/uploads", h.Upload, AuthContext)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func identity(c echo.Context) (auth.Identity, error) {
	id, ok := auth.FromContext(c.Request().Context())
	if !ok {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "no user identity")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errs.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, errs.ErrConflict),
		errors.Is(err, errs.ErrPendingExists),
		errors.Is(err, errs.ErrNotPending):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type addBookRequest struct {
	ImageURL string `json:"imageUrl" validate:"required"`
	Category string `json:"category" validate:"required"`
}

func (h *Handler) AddBook(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	var req addBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	book, err := h.svc.AddBook(c.Request().Context(), user, req.ImageURL, req.Category)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, book)
}

func (h *Handler) ListBooks(c echo.Context) error {
	books, err := h.svc.ListBooks(c.Request().Context(),
		c.QueryParam("ownerId"), c.QueryParam("status"), c.QueryParam("category"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, books)
}

func (h *Handler) GetBook(c echo.Context) error {
	book, err := h.svc.GetBook(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) DeleteBook(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBook(c.Request().Context(), user, c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) IssueBook(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	var to service.Borrower
	if err := c.Bind(&to); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(to); err != nil {
		return err
	}
	book, err := h.svc.IssueBook(c.Request().Context(), user, c.Param("id"), to)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) ReturnBook(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	book, err := h.svc.ReturnBook(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, book)
}

// WatchBooks streams live query snapshots as server-sent events until
// the client goes away.
func (h *Handler) WatchBooks(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := h.svc.WatchBooks(c.QueryParam("ownerId"), func(docs []model.Document) {
		data, err := json.Marshal(docs)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		w.Flush()
	})
	<-c.Request().Context().Done()
	sub.Unsubscribe()
	return nil
}

type createRequestRequest struct {
	BookID string `json:"bookId" validate:"required"`
}

func (h *Handler) CreateRequest(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	var req createRequestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	created, err := h.svc.CreateRequest(c.Request().Context(), user, req.BookID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListRequests(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	reqs, err := h.svc.ListRequests(c.Request().Context(), user.UserID, c.QueryParam("role"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reqs)
}

func (h *Handler) ApproveRequest(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	req, err := h.svc.ApproveRequest(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) RejectRequest(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	req, err := h.svc.RejectRequest(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) CancelRequest(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	if err := h.svc.CancelRequest(c.Request().Context(), user, c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetProfile(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProfile(c.Request().Context(), user.UserID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SaveProfile(c echo.Context) error {
	user, err := identity(c)
	if err != nil {
		return err
	}
	var p model.UserProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	saved, err := h.svc.SaveProfile(c.Request().Context(), user, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) Upload(c echo.Context) error {
	if _, err := identity(c); err != nil {
		return err
	}
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	url, err := h.uploader.Upload(c.Request().Context(), file.Filename, data)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"url": url})
}
