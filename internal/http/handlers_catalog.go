package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stars/internal/catalog"
)

type (
	childRequest struct {
		Name string `json:"name"`
	}

	templateRequest struct {
		Name     string `json:"name"`
		Category string `json:"category"`
		Stars    int64  `json:"stars"`
	}

	templatePatchRequest struct {
		Name     *string `json:"name"`
		Category *string `json:"category"`
		Stars    *int64  `json:"stars"`
		Active   *bool   `json:"active"`
	}

	rewardRequest struct {
		Name string `json:"name"`
		Cost int64  `json:"cost"`
	}

	rewardPatchRequest struct {
		Name   *string `json:"name"`
		Cost   *int64  `json:"cost"`
		Active *bool   `json:"active"`
	}
)

// activeOnly reads ?active=; listings default to active entries only.
func activeOnly(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("active")
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("active must be a boolean")
	}
	return b, nil
}

func (s *Server) handleAddChild(w http.ResponseWriter, r *http.Request) {
	var req childRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	child, err := s.engine.Catalog.AddChild(r.Context(), chi.URLParam(r, "familyID"), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, child)
}

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	children, err := s.engine.Catalog.Children(r.Context(), chi.URLParam(r, "familyID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(children))
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.engine.Catalog.CreateTemplate(r.Context(), catalog.TemplateInput{
		FamilyID: chi.URLParam(r, "familyID"),
		Name:     req.Name,
		Category: req.Category,
		Stars:    req.Stars,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	active, err := activeOnly(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	templates, err := s.engine.Catalog.Templates(r.Context(), chi.URLParam(r, "familyID"), active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(templates))
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templatePatchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.engine.Catalog.UpdateTemplate(r.Context(), chi.URLParam(r, "familyID"), chi.URLParam(r, "id"),
		catalog.TemplatePatch{Name: req.Name, Category: req.Category, Stars: req.Stars, Active: req.Active})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	archived, err := s.engine.Catalog.DeleteTemplate(r.Context(), chi.URLParam(r, "familyID"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": archived})
}

func (s *Server) handleCreateReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	reward, err := s.engine.Catalog.CreateReward(r.Context(), catalog.RewardInput{
		FamilyID: chi.URLParam(r, "familyID"),
		Name:     req.Name,
		Cost:     req.Cost,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reward)
}

func (s *Server) handleListRewards(w http.ResponseWriter, r *http.Request) {
	active, err := activeOnly(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rewards, err := s.engine.Catalog.Rewards(r.Context(), chi.URLParam(r, "familyID"), active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rewards))
}

func (s *Server) handleUpdateReward(w http.ResponseWriter, r *http.Request) {
	var req rewardPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	reward, err := s.engine.Catalog.UpdateReward(r.Context(), chi.URLParam(r, "familyID"), chi.URLParam(r, "id"),
		catalog.RewardPatch{Name: req.Name, Cost: req.Cost, Active: req.Active})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (s *Server) handleDeleteReward(w http.ResponseWriter, r *http.Request) {
	archived, err := s.engine.Catalog.DeleteReward(r.Context(), chi.URLParam(r, "familyID"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": archived})
}
