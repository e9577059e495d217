package server

import (
	"net/http"
	"strings"
	"time"

	"courtwatch/pkg/courtcase"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("Failed to list users", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []*courtcase.User{}
	}
	s.writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req struct {
		Contact string `json:"contact"`
		Name    string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	contact := strings.ToLower(strings.TrimSpace(req.Contact))
	if !isValidContact(contact) {
		s.writeError(w, http.StatusBadRequest, "invalid contact address")
		return
	}

	if existing, err := s.store.LoadUserByContact(r.Context(), contact); err == nil && existing != nil {
		s.writeError(w, http.StatusConflict, "user already exists")
		return
	} else if err != nil && !s.isNotFound(err) {
		s.logger.Error("Failed to check existing user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	user := &courtcase.User{
		Contact:       contact,
		Name:          strings.TrimSpace(req.Name),
		Token:         s.store.TokenFromContact(contact),
		Active:        true,
		CreatedAt:     time.Now().UTC(),
		Subscriptions: make(map[string]*courtcase.Subscription),
	}
	if err := s.store.SaveUser(r.Context(), user); err != nil {
		s.logger.Error("Failed to save user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save user")
		return
	}

	s.logger.Info("User created", "contact", contact, "ip", ip)
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteUser(r.Context(), user.Contact); err != nil {
		s.logger.Error("Failed to delete user", "contact", user.Contact, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	s.logger.Info("User removed", "contact", user.Contact, "ip", ip)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// subscriptionRequest is the PUT body for a subscription upsert.
// Omitted notify_on means all kinds.
type subscriptionRequest struct {
	Alias    string                 `json:"alias"`
	Notes    string                 `json:"notes"`
	Priority string                 `json:"priority"`
	NotifyOn *courtcase.NotifyPrefs `json:"notify_on"`
}

func (s *Server) handlePutSubscription(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}

	cino := strings.ToUpper(r.PathValue("cino"))
	if !cinoRegex.MatchString(cino) {
		s.writeError(w, http.StatusBadRequest, "invalid cino")
		return
	}

	// Subscriptions only attach to monitored cases.
	if _, err := s.store.LoadCase(r.Context(), cino); err != nil {
		if s.isNotFound(err) {
			s.writeError(w, http.StatusNotFound, "case not monitored")
			return
		}
		s.logger.Error("Failed to load case", "cino", cino, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	var req subscriptionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	prefs := courtcase.AllNotifyPrefs()
	if req.NotifyOn != nil {
		prefs = *req.NotifyOn
	}

	if user.Subscriptions == nil {
		user.Subscriptions = make(map[string]*courtcase.Subscription)
	}
	sub, exists := user.Subscriptions[cino]
	if !exists {
		sub = &courtcase.Subscription{CreatedAt: time.Now().UTC()}
		user.Subscriptions[cino] = sub
	}
	// Upsert keeps delivery bookkeeping intact.
	sub.Active = true
	sub.Alias = strings.TrimSpace(req.Alias)
	sub.Notes = strings.TrimSpace(req.Notes)
	sub.Priority = strings.TrimSpace(req.Priority)
	sub.NotifyOn = prefs

	if err := s.store.SaveUser(r.Context(), user); err != nil {
		s.logger.Error("Failed to save subscription", "contact", user.Contact, "cino", cino, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	s.logger.Info("Subscription saved", "contact", user.Contact, "cino", cino, "ip", ip)
	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}

	cino := strings.ToUpper(r.PathValue("cino"))
	if _, exists := user.Subscriptions[cino]; !exists {
		s.writeError(w, http.StatusNotFound, "subscription not found")
		return
	}

	delete(user.Subscriptions, cino)
	if err := s.store.SaveUser(r.Context(), user); err != nil {
		s.logger.Error("Failed to remove subscription", "contact", user.Contact, "cino", cino, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}

	s.logger.Info("Subscription removed", "contact", user.Contact, "cino", cino, "ip", ip)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// loadUser resolves the {token} path value. Invalid and unknown tokens
// are indistinguishable to the caller.
func (s *Server) loadUser(w http.ResponseWriter, r *http.Request) (*courtcase.User, bool) {
	token := r.PathValue("token")
	user, err := s.store.LoadUserByToken(r.Context(), token)
	if err != nil {
		if s.isNotFound(err) {
			s.writeError(w, http.StatusNotFound, "user not found")
			return nil, false
		}
		s.logger.Error("Failed to load user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage unavailable")
		return nil, false
	}
	return user, true
}
