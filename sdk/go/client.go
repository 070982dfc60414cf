package booklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Bookline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type JobRequest struct {
	ID             string  `json:"id"`
	BuyerID        string  `json:"buyer_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Category       string  `json:"category"`
	Budget         *string `json:"budget,omitempty"`
	PreferredStart *string `json:"preferred_start,omitempty"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
}

type Offer struct {
	ID           string  `json:"id"`
	RequestID    string  `json:"request_id"`
	SellerID     string  `json:"seller_id"`
	OfferedPrice *string `json:"offered_price,omitempty"`
	Status       string  `json:"status"`
	BookingID    *string `json:"booking_id,omitempty"`
}

type Booking struct {
	ID             string  `json:"id"`
	BuyerID        string  `json:"buyer_id"`
	SellerID       string  `json:"seller_id"`
	OfferID        *string `json:"offer_id,omitempty"`
	SlotID         *string `json:"slot_id,omitempty"`
	Price          string  `json:"price"`
	ScheduledStart *string `json:"scheduled_start,omitempty"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty"`
	Status         string  `json:"status"`
	CancelReason   *string `json:"cancel_reason,omitempty"`
}

type Review struct {
	ID         string  `json:"id"`
	BookingID  string  `json:"booking_id"`
	ReviewedID string  `json:"reviewed_id"`
	Rating     int     `json:"rating"`
	Comment    *string `json:"comment,omitempty"`
}

type SellerReviews struct {
	SellerID      string   `json:"seller_id"`
	Reviews       []Review `json:"reviews"`
	AverageRating *float64 `json:"average_rating"`
	TotalReviews  int      `json:"total_reviews"`
}

type Notification struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	OldStatus  string         `json:"old_status,omitempty"`
	NewStatus  string         `json:"new_status,omitempty"`
	Payload    map[string]any `json:"payload"`
	ReadAt     *string        `json:"read_at,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// OfferInput names a seller to offer a job request to.
type OfferInput struct {
	SellerID     string   `json:"seller_id"`
	OfferedPrice *float64 `json:"offered_price,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// RespondOfferResult carries the booking created by an accept.
type RespondOfferResult struct {
	Offer   Offer    `json:"offer"`
	Booking *Booking `json:"booking,omitempty"`
}

// APIError wraps non-2xx responses. Code is the envelope's error code when the
// body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedNotifications wraps list responses with cursors.
type PaginatedNotifications struct {
	Items      []Notification `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

func (c *Client) CreateJobRequest(ctx context.Context, title, category string, budget *float64) (JobRequest, error) {
	body := map[string]any{"title": title, "category": category}
	if budget != nil {
		body["budget"] = *budget
	}
	var resp JobRequest
	err := c.do(ctx, http.MethodPost, "job-requests", body, &resp)
	return resp, err
}

func (c *Client) CreateOffers(ctx context.Context, requestID string, offers ...OfferInput) ([]Offer, error) {
	var resp []Offer
	endpoint := fmt.Sprintf("job-requests/%s/offers", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"offers": offers}, &resp)
	return resp, err
}

// RespondOffer accepts or rejects an offer. expectedStatus may be empty.
func (c *Client) RespondOffer(ctx context.Context, offerID, action, expectedStatus string) (RespondOfferResult, error) {
	var resp RespondOfferResult
	endpoint := withExpected(fmt.Sprintf("offers/%s/respond", url.PathEscape(offerID)), expectedStatus)
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"action": action}, &resp)
	return resp, err
}

func (c *Client) RespondBooking(ctx context.Context, bookingID, action, expectedStatus string) (Booking, error) {
	var resp Booking
	endpoint := withExpected(fmt.Sprintf("bookings/%s/respond", url.PathEscape(bookingID)), expectedStatus)
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"action": action}, &resp)
	return resp, err
}

func (c *Client) CancelBooking(ctx context.Context, bookingID, reason, expectedStatus string) (Booking, error) {
	var resp Booking
	endpoint := withExpected(fmt.Sprintf("bookings/%s/cancel", url.PathEscape(bookingID)), expectedStatus)
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
}

// CompleteBooking is the admin override for completing an accepted booking.
func (c *Client) CompleteBooking(ctx context.Context, bookingID, expectedStatus string) (Booking, error) {
	var resp Booking
	endpoint := withExpected(fmt.Sprintf("bookings/%s/complete", url.PathEscape(bookingID)), expectedStatus)
	err := c.do(ctx, http.MethodPatch, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetBooking(ctx context.Context, bookingID string) (Booking, error) {
	var resp Booking
	err := c.do(ctx, http.MethodGet, "bookings/"+url.PathEscape(bookingID), nil, &resp)
	return resp, err
}

func (c *Client) ReviewBooking(ctx context.Context, bookingID string, rating int, comment string) (Review, error) {
	body := map[string]any{"rating": rating}
	if comment != "" {
		body["comment"] = comment
	}
	var resp Review
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("bookings/%s/review", url.PathEscape(bookingID)), body, &resp)
	return resp, err
}

// SellerReviews returns the reviews a seller received and their average rating.
func (c *Client) SellerReviews(ctx context.Context, sellerID string, limit int) (SellerReviews, error) {
	endpoint := fmt.Sprintf("sellers/%s/reviews", url.PathEscape(sellerID))
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp SellerReviews
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications returns one page of the caller's inbox.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool, limit int, cursor string) (PaginatedNotifications, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread_only", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "notifications"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedNotifications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) (Notification, error) {
	var resp Notification
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("notifications/%d/read", id), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withExpected(endpoint, expected string) string {
	if expected == "" {
		return endpoint
	}
	return endpoint + "?expected_status=" + url.QueryEscape(expected)
}

func (c *Client) base() string {
	bp := "/" + strings.Trim(c.BasePath, "/")
	if bp == "/" {
		bp = ""
	}
	return strings.TrimRight(c.BaseURL, "/") + bp
}
