// internal/clients/client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"librelay/internal/domain"
	"librelay/internal/library"
)

// Client talks to a frontend or admin service instance. The two variants
// share request and response shapes; they differ only in which routes are
// mounted.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the service at baseURL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: http.DefaultClient}
}

// AddBook registers a new book (admin surface).
func (c *Client) AddBook(ctx context.Context, title, publisher, category string) (*domain.Book, error) {
	req := struct {
		Title     string `json:"title"`
		Publisher string `json:"publisher"`
		Category  string `json:"category"`
	}{title, publisher, category}

	var book domain.Book
	if err := c.post(ctx, "/books/", req, http.StatusCreated, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// RemoveBook deletes a book (admin surface).
func (c *Client) RemoveBook(ctx context.Context, bookUUID uuid.UUID) error {
	return c.delete(ctx, fmt.Sprintf("/books/%s", bookUUID))
}

// GetBook fetches a single book.
func (c *Client) GetBook(ctx context.Context, bookUUID uuid.UUID) (*domain.Book, error) {
	var book domain.Book
	if err := c.get(ctx, fmt.Sprintf("/books/%s", bookUUID), &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// ListAvailable lists borrowable books (frontend surface).
func (c *Client) ListAvailable(ctx context.Context) ([]*domain.Book, error) {
	var books []*domain.Book
	if err := c.get(ctx, "/books/", &books); err != nil {
		return nil, err
	}
	return books, nil
}

// ListUnavailable lists lent-out books (admin surface).
func (c *Client) ListUnavailable(ctx context.Context) ([]*domain.Book, error) {
	var books []*domain.Book
	if err := c.get(ctx, "/books/unavailable", &books); err != nil {
		return nil, err
	}
	return books, nil
}

// Availability reports whether the book can be borrowed.
func (c *Client) Availability(ctx context.Context, bookUUID uuid.UUID) (bool, error) {
	var resp struct {
		AvailabilityStatus bool `json:"availability_status"`
	}
	if err := c.get(ctx, fmt.Sprintf("/books/%s/availability", bookUUID), &resp); err != nil {
		return false, err
	}
	return resp.AvailabilityStatus, nil
}

// EnrollUser registers a new user (frontend surface).
func (c *Client) EnrollUser(ctx context.Context, email, firstname, lastname string) (*domain.User, error) {
	req := struct {
		Email     string `json:"email"`
		Firstname string `json:"firstname"`
		Lastname  string `json:"lastname"`
	}{email, firstname, lastname}

	var user domain.User
	if err := c.post(ctx, "/users/enroll", req, http.StatusCreated, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers lists enrolled users (admin surface).
func (c *Client) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	if err := c.get(ctx, "/users/", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// BorrowBook lends a book to a user (frontend surface).
func (c *Client) BorrowBook(ctx context.Context, userUUID, bookUUID uuid.UUID, days int) (*domain.BorrowRecord, error) {
	req := struct {
		UserUUID uuid.UUID `json:"user_uuid"`
		BookUUID uuid.UUID `json:"book_uuid"`
		Days     int       `json:"days"`
	}{userUUID, bookUUID, days}

	var record domain.BorrowRecord
	if err := c.post(ctx, "/books/borrow", req, http.StatusCreated, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// ReturnBook closes the open borrow record for a book (frontend surface).
func (c *Client) ReturnBook(ctx context.Context, bookUUID uuid.UUID) (*domain.BorrowRecord, error) {
	req := struct {
		BookUUID uuid.UUID `json:"book_uuid"`
	}{bookUUID}

	var record domain.BorrowRecord
	if err := c.post(ctx, "/books/return", req, http.StatusOK, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// UserBorrowed lists a user's borrow records with overdue state.
func (c *Client) UserBorrowed(ctx context.Context, userUUID uuid.UUID) ([]*library.BorrowStatus, error) {
	var statuses []*library.BorrowStatus
	if err := c.get(ctx, fmt.Sprintf("/users/%s/borrowed", userUUID), &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusOK, out)
}

func (c *Client) post(ctx context.Context, path string, body any, wantStatus int, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, wantStatus, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusNoContent, nil)
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
