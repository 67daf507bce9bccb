package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"gridspace/auth"
	"gridspace/store"
)

type errorBody struct {
	Message string `json:"message"`
}

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Type     string `json:"type"`
}

type signinRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createSpaceRequest struct {
	Name       string          `json:"name"`
	Dimensions string          `json:"dimensions"` // "宽x高"，例如 "100x200"
	Elements   []store.Element `json:"elements"`
}

type spaceResponse struct {
	ID         string          `json:"spaceId"`
	Name       string          `json:"name"`
	Dimensions string          `json:"dimensions"`
	Elements   []store.Element `json:"elements"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Message: msg})
}

// Signup POST /api/v1/signup
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	userID, err := h.accounts.Signup(r.Context(), req.Username, req.Password, req.Type)
	switch {
	case errors.Is(err, auth.ErrInvalidSignup), errors.Is(err, auth.ErrUsernameTaken):
		h.fail(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Errorw("signup failed", "username", req.Username, "error", err)
		h.fail(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	render.JSON(w, r, map[string]string{"userId": userID})
}

// Signin POST /api/v1/signin
func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	token, err := h.accounts.Signin(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.fail(w, r, http.StatusForbidden, err.Error())
		return
	case err != nil:
		h.log.Errorw("signin failed", "username", req.Username, "error", err)
		h.fail(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	render.JSON(w, r, map[string]string{"token": token})
}

// CreateSpace POST /api/v1/space
func (h *Handler) CreateSpace(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	var req createSpaceRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.fail(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	width, height, err := parseDimensions(req.Dimensions)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sp, err := h.spaces.CreateSpace(r.Context(), store.SpaceInput{
		Name:      req.Name,
		Width:     width,
		Height:    height,
		CreatorID: claims.Subject,
		Elements:  req.Elements,
	})
	switch {
	case errors.Is(err, store.ErrInvalidSpace):
		h.fail(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Errorw("create space failed", "user", claims.Subject, "error", err)
		h.fail(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	render.JSON(w, r, map[string]string{"spaceId": sp.ID})
}

// GetSpace GET /api/v1/space/{spaceId}
func (h *Handler) GetSpace(w http.ResponseWriter, r *http.Request) {
	sp, err := h.spaces.GetSpace(r.Context(), chi.URLParam(r, "spaceId"))
	switch {
	case errors.Is(err, store.ErrSpaceNotFound):
		h.fail(w, r, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.log.Errorw("get space failed", "error", err)
		h.fail(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	render.JSON(w, r, spaceResponse{
		ID:         sp.ID,
		Name:       sp.Name,
		Dimensions: fmt.Sprintf("%dx%d", sp.Width, sp.Height),
		Elements:   sp.Elements,
	})
}

func parseDimensions(s string) (int, int, error) {
	var w, h int
	if n, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil || n != 2 {
		return 0, 0, fmt.Errorf("dimensions must look like 100x200, got %q", s)
	}
	return w, h, nil
}
