package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phoebebright/newsletterd/internal/models"
	"github.com/phoebebright/newsletterd/internal/subscription"
)

// CreateNewsletterRequest is the request body for POST /newsletters
type CreateNewsletterRequest struct {
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name"`
	Visible     *bool  `json:"visible,omitempty"`
	SendHTML    *bool  `json:"send_html,omitempty"`
}

// SubscribeRequest is the request body for POST
// /newsletters/{slug}/subscriptions
type SubscribeRequest struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	UserID string `json:"user_id,omitempty"`

	// Auto skips the confirmation email and activates immediately.
	// Intended for trusted callers importing known-good addresses.
	Auto bool `json:"auto,omitempty"`
}

// CreateMessageRequest is the request body for POST
// /newsletters/{slug}/messages
type CreateMessageRequest struct {
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	Body     string `json:"body"`
	BodyHTML string `json:"body_html,omitempty"`
}

// AddArticleRequest is the request body for POST /messages/{id}/articles
type AddArticleRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url,omitempty"`
}

// AddAttachmentRequest is the request body for POST
// /messages/{id}/attachments. Data is base64-encoded.
type AddAttachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// CreateSubmissionRequest is the request body for POST /submissions
type CreateSubmissionRequest struct {
	MessageID   string     `json:"message_id"`
	PublishDate *time.Time `json:"publish_date,omitempty"`
}

// SendResponse is the response for POST /submissions/{id}/send
type SendResponse struct {
	Report *models.DeliveryReport `json:"report"`
	Error  string                 `json:"error,omitempty"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleCreateNewsletter handles POST /api/v1/newsletters
func (s *Server) handleCreateNewsletter(w http.ResponseWriter, r *http.Request) {
	var req CreateNewsletterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Title == "" || req.Slug == "" {
		s.sendError(w, http.StatusBadRequest, "title and slug are required")
		return
	}
	if _, err := mail.ParseAddress(req.SenderEmail); err != nil {
		s.sendError(w, http.StatusBadRequest, "sender_email is not a valid address")
		return
	}

	nl := &models.Newsletter{
		Title:       req.Title,
		Slug:        req.Slug,
		SenderEmail: req.SenderEmail,
		SenderName:  req.SenderName,
		Visible:     true,
		SendHTML:    true,
	}
	if req.Visible != nil {
		nl.Visible = *req.Visible
	}
	if req.SendHTML != nil {
		nl.SendHTML = *req.SendHTML
	}

	if err := s.newsletters.Create(nl); err != nil {
		if errors.Is(err, models.ErrDuplicateSlug) {
			s.sendError(w, http.StatusConflict, "newsletter slug already exists")
			return
		}
		s.logger.Error("failed to create newsletter", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create newsletter")
		return
	}

	s.sendJSON(w, http.StatusCreated, nl)
}

// handleListNewsletters handles GET /api/v1/newsletters
func (s *Server) handleListNewsletters(w http.ResponseWriter, r *http.Request) {
	list, err := s.newsletters.List()
	if err != nil {
		s.logger.Error("failed to list newsletters", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list newsletters")
		return
	}
	s.sendJSON(w, http.StatusOK, list)
}

// handleGetNewsletter handles GET /api/v1/newsletters/{slug}
func (s *Server) handleGetNewsletter(w http.ResponseWriter, r *http.Request) {
	nl, ok := s.newsletterBySlug(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, nl)
}

// handleSubscribe handles POST /api/v1/newsletters/{slug}/subscriptions
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		s.sendError(w, http.StatusBadRequest, "email is not a valid address")
		return
	}

	var (
		sub *models.Subscription
		err error
	)
	if req.Auto {
		sub, err = s.subscriptions.AutoSubscribe(r.Context(), slug, req.Email, req.Name, req.UserID)
	} else {
		sub, err = s.subscriptions.Subscribe(r.Context(), slug, req.Email, req.Name, r.RemoteAddr)
	}
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "newsletter not found")
			return
		}
		s.logger.Error("failed to subscribe", "newsletter", slug, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to subscribe")
		return
	}

	s.sendJSON(w, http.StatusCreated, sub)
}

// handleUnsubscribe handles DELETE
// /api/v1/newsletters/{slug}/subscriptions/{email}
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid email")
		return
	}

	if err := s.subscriptions.Unsubscribe(r.Context(), slug, email); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "newsletter not found")
			return
		}
		s.logger.Error("failed to unsubscribe", "newsletter", slug, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to unsubscribe")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListSubscriptions handles GET
// /api/v1/newsletters/{slug}/subscriptions
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	nl, ok := s.newsletterBySlug(w, r)
	if !ok {
		return
	}

	list, err := s.subscriptions.ListSubscribers(r.Context(), nl.ID)
	if err != nil {
		s.logger.Error("failed to list subscriptions", "newsletter", nl.Slug, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list subscriptions")
		return
	}
	s.sendJSON(w, http.StatusOK, list)
}

// handleCreateMessage handles POST /api/v1/newsletters/{slug}/messages
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	nl, ok := s.newsletterBySlug(w, r)
	if !ok {
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" || req.Slug == "" {
		s.sendError(w, http.StatusBadRequest, "title and slug are required")
		return
	}

	msg := &models.Message{
		NewsletterID: nl.ID,
		Title:        req.Title,
		Slug:         req.Slug,
		Body:         req.Body,
		BodyHTML:     req.BodyHTML,
	}
	if err := s.messages.Create(msg); err != nil {
		if errors.Is(err, models.ErrDuplicateSlug) {
			s.sendError(w, http.StatusConflict, "message slug already exists in this newsletter")
			return
		}
		s.logger.Error("failed to create message", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create message")
		return
	}

	s.sendJSON(w, http.StatusCreated, msg)
}

// handleListMessages handles GET /api/v1/newsletters/{slug}/messages
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	nl, ok := s.newsletterBySlug(w, r)
	if !ok {
		return
	}

	list, err := s.messages.ListByNewsletter(nl.ID)
	if err != nil {
		s.logger.Error("failed to list messages", "newsletter", nl.Slug, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}
	s.sendJSON(w, http.StatusOK, list)
}

// handleGetMessage handles GET /api/v1/messages/{id}
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.messages.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("failed to get message", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get message")
		return
	}
	s.sendJSON(w, http.StatusOK, msg)
}

// handleAddArticle handles POST /api/v1/messages/{id}/articles
func (s *Server) handleAddArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AddArticleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" {
		s.sendError(w, http.StatusBadRequest, "title is required")
		return
	}

	// Ensure the message exists so a typo'd id fails loudly.
	if _, err := s.messages.GetByID(id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("failed to get message", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get message")
		return
	}

	article := &models.Article{
		MessageID: id,
		Title:     req.Title,
		Text:      req.Text,
		URL:       req.URL,
	}
	if err := s.messages.AddArticle(article); err != nil {
		s.logger.Error("failed to add article", "message_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to add article")
		return
	}

	s.sendJSON(w, http.StatusCreated, article)
}

// handleAddAttachment handles POST /api/v1/messages/{id}/attachments
func (s *Server) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AddAttachmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Filename == "" {
		s.sendError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if len(req.Data) == 0 {
		s.sendError(w, http.StatusBadRequest, "data is required")
		return
	}

	if _, err := s.messages.GetByID(id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("failed to get message", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get message")
		return
	}

	attachment := &models.Attachment{
		MessageID:   id,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Data:        req.Data,
	}
	if err := s.messages.AddAttachment(attachment); err != nil {
		s.logger.Error("failed to add attachment", "message_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to add attachment")
		return
	}

	// Echo the metadata, not the bytes.
	attachment.Data = nil
	s.sendJSON(w, http.StatusCreated, attachment)
}

// handleCreateSubmission handles POST /api/v1/submissions
func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.MessageID == "" {
		s.sendError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	var publishDate time.Time
	if req.PublishDate != nil {
		publishDate = *req.PublishDate
	}

	sub, err := s.dispatcher.CreateSubmission(req.MessageID, publishDate)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("failed to create submission", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create submission")
		return
	}

	s.sendJSON(w, http.StatusCreated, sub)
}

// handleSendSubmission handles POST /api/v1/submissions/{id}/send
func (s *Server) handleSendSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := s.dispatcher.Send(r.Context(), id)
	if err != nil {
		var deliveryErr *models.DeliveryError
		switch {
		case errors.Is(err, models.ErrNotFound):
			s.sendError(w, http.StatusNotFound, "submission not found")
		case errors.Is(err, models.ErrAlreadySent):
			s.sendError(w, http.StatusConflict, "submission was already sent")
		case errors.As(err, &deliveryErr):
			// Dispatch ran but every recipient failed; the report is
			// still the answer.
			s.sendJSON(w, http.StatusBadGateway, SendResponse{Report: report, Error: err.Error()})
		default:
			s.logger.Error("failed to send submission", "id", id, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to send submission")
		}
		return
	}

	s.sendJSON(w, http.StatusOK, SendResponse{Report: report})
}

// handleGetSubmission handles GET /api/v1/submissions/{id}
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.submissions.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "submission not found")
			return
		}
		s.logger.Error("failed to get submission", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get submission")
		return
	}
	s.sendJSON(w, http.StatusOK, sub)
}

// handleGetRecipients handles GET /api/v1/submissions/{id}/recipients
func (s *Server) handleGetRecipients(w http.ResponseWriter, r *http.Request) {
	recs, err := s.submissions.GetRecipients(chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get recipients", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get recipients")
		return
	}
	s.sendJSON(w, http.StatusOK, recs)
}

// handleActivate handles GET /a/{action}/{code}, the link sent in
// confirmation emails.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	code := chi.URLParam(r, "code")

	if action != subscription.ActionSubscribe && action != subscription.ActionUnsubscribe {
		s.sendError(w, http.StatusNotFound, "unknown action")
		return
	}

	sub, err := s.subscriptions.Activate(r.Context(), code, action)
	if err != nil {
		if errors.Is(err, models.ErrInvalidActivationCode) {
			s.sendError(w, http.StatusNotFound, "invalid activation code")
			return
		}
		s.logger.Error("activation failed", "action", action, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Activation failed")
		return
	}

	s.sendJSON(w, http.StatusOK, sub)
}

// handleUnsubscribeLink handles GET /u/{code}, the List-Unsubscribe
// target embedded in every delivered message.
func (s *Server) handleUnsubscribeLink(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	sub, err := s.subscriptions.Activate(r.Context(), code, subscription.ActionUnsubscribe)
	if err != nil {
		if errors.Is(err, models.ErrInvalidActivationCode) {
			s.sendError(w, http.StatusNotFound, "invalid unsubscribe code")
			return
		}
		s.logger.Error("unsubscribe failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Unsubscribe failed")
		return
	}

	s.sendJSON(w, http.StatusOK, sub)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).String(),
	})
}

// newsletterBySlug resolves the {slug} URL parameter, writing a 404
// when the newsletter does not exist.
func (s *Server) newsletterBySlug(w http.ResponseWriter, r *http.Request) (*models.Newsletter, bool) {
	slug := chi.URLParam(r, "slug")
	nl, err := s.newsletters.GetBySlug(slug)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "newsletter not found")
			return nil, false
		}
		s.logger.Error("failed to get newsletter", "slug", slug, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get newsletter")
		return nil, false
	}
	return nl, true
}

// sendJSON writes v as a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
