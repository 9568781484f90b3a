package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/digkill/salonstudio/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Code      apperr.Kind `json:"code"`
	Message   string      `json:"message"`
	Remaining *int        `json:"remaining,omitempty"`
}

// envelope is the shape of every API response. Both members are always
// present; the unused one encodes as null.
type envelope struct {
	Data  any        `json:"data"`
	Error *errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

// writeError maps err onto the error taxonomy. Internal details are logged,
// never returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	body := &errorBody{Code: kind, Message: apperr.Message(err)}

	var appErr *apperr.Error
	if errors.As(err, &appErr) && kind == apperr.KindQuotaExceeded {
		remaining := appErr.Remaining
		body.Remaining = &remaining
	}

	status := apperr.Status(kind)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "kind", kind, "err", err)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "kind", kind, "err", err)
	}
	writeJSON(w, status, envelope{Error: body})
}

// respond writes data with status, or the error envelope when err is set.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	s.writeData(w, status, data)
}

// decodeJSON reads a bounded JSON body into dst and validates its tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid json body", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validation("invalid field %s: %s", verrs[0].Field(), verrs[0].Tag())
		}
		return apperr.Wrap(apperr.KindValidation, "invalid request", err)
	}
	return nil
}
