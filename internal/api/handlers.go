package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/salonstudio/internal/apperr"
	"github.com/digkill/salonstudio/internal/auth"
	"github.com/digkill/salonstudio/internal/service"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	me, err := s.profiles.Me(r.Context(), auth.AccountID(r.Context()))
	s.respond(w, r, http.StatusOK, me, err)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var input service.UpdateProfileInput
	if err := decodeJSON(w, r, &input); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.profiles.Update(r.Context(), auth.AccountID(r.Context()), input)
	s.respond(w, r, http.StatusOK, p, err)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListActive(r.Context())
	s.respond(w, r, http.StatusOK, plans, err)
}

type checkoutRequest struct {
	PlanID int64 `json:"plan_id" validate:"required,gt=0"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	checkout, err := s.billing.Checkout(r.Context(), auth.AccountID(r.Context()), req.PlanID)
	s.respond(w, r, http.StatusOK, checkout, err)
}

type redeemRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

func (s *Server) handleRedeemPromo(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	grant, err := s.promos.Apply(r.Context(), auth.AccountID(r.Context()), req.Code)
	s.respond(w, r, http.StatusOK, grant, err)
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := s.customers.List(r.Context(), auth.AccountID(r.Context()))
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var input service.CustomerInput
	if err := decodeJSON(w, r, &input); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.customers.Create(r.Context(), auth.AccountID(r.Context()), input)
	s.respond(w, r, http.StatusCreated, c, err)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := s.customers.Get(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, c, err)
}

func (s *Server) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var input service.CustomerInput
	if err := decodeJSON(w, r, &input); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.customers.Update(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"), input)
	s.respond(w, r, http.StatusOK, c, err)
}

func (s *Server) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	err := s.customers.Delete(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

// photoForm is a parsed multipart request. Missing fields yield empty photos so
// the studio service reports them after the quota check.
type photoForm struct {
	form *multipart.Form
}

func (f photoForm) photo(field string) (service.Photo, error) {
	p := service.Photo{Field: field}
	if f.form == nil {
		return p, nil
	}
	headers := f.form.File[field]
	if len(headers) == 0 {
		return p, nil
	}
	file, err := headers[0].Open()
	if err != nil {
		return p, apperr.Wrap(apperr.KindValidation, "cannot read "+field, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return p, apperr.Wrap(apperr.KindValidation, "cannot read "+field, err)
	}
	p.Data = data
	return p, nil
}

func (f photoForm) value(field string) string {
	if f.form == nil || len(f.form.Value[field]) == 0 {
		return ""
	}
	return f.form.Value[field][0]
}

// parsePhotos reads up to maxFiles photos. A body above the per-file limit
// times maxFiles is rejected before any of it is buffered.
func (s *Server) parsePhotos(w http.ResponseWriter, r *http.Request, maxFiles int) (photoForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes*int64(maxFiles)+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return photoForm{}, apperr.Validation("upload exceeds %d bytes", tooLarge.Limit)
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return photoForm{}, nil
		}
		return photoForm{}, apperr.Wrap(apperr.KindValidation, "invalid multipart body", err)
	}
	return photoForm{form: r.MultipartForm}, nil
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	form, err := s.parsePhotos(w, r, 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer removeForm(form)
	photo, err := form.photo("image")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.studio.AnalyzePhoto(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"), photo)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	form, err := s.parsePhotos(w, r, len(service.CompositeAngles))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer removeForm(form)
	var photos []service.Photo
	for _, angle := range service.CompositeAngles {
		photo, err := form.photo(angle)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(photo.Data) > 0 {
			photos = append(photos, photo)
		}
	}
	out, err := s.studio.AnalyzeComposite(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"), photos)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	form, err := s.parsePhotos(w, r, 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer removeForm(form)
	photo, err := form.photo("image")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.studio.RecommendStyles(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"), photo)
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) handleRecipe(w http.ResponseWriter, r *http.Request) {
	form, err := s.parsePhotos(w, r, 2)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer removeForm(form)
	current, err := form.photo("current")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	desired, err := form.photo("desired")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.studio.GenerateRecipe(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"), current, desired, form.value("treatment_type"))
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) handlePredictTimeline(w http.ResponseWriter, r *http.Request) {
	form, err := s.parsePhotos(w, r, 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer removeForm(form)
	photo, err := form.photo("image")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.studio.PredictTimeline(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"), photo, form.value("treatment_type"))
	s.respond(w, r, http.StatusCreated, out, err)
}

func (s *Server) handleListConsultations(w http.ResponseWriter, r *http.Request) {
	list, err := s.studio.ListConsultations(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleGetConsultation(w http.ResponseWriter, r *http.Request) {
	c, err := s.studio.GetConsultation(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, c, err)
}

func (s *Server) handleDeleteConsultation(w http.ResponseWriter, r *http.Request) {
	err := s.studio.DeleteConsultation(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleListTimelines(w http.ResponseWriter, r *http.Request) {
	list, err := s.studio.ListTimelines(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleDeleteTimeline(w http.ResponseWriter, r *http.Request) {
	err := s.studio.DeleteTimeline(r.Context(), auth.AccountID(r.Context()), chi.URLParam(r, "id"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func removeForm(f photoForm) {
	if f.form != nil {
		_ = f.form.RemoveAll()
	}
}
