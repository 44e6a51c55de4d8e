package authhttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/PaulFidika/authstudio/core"
	"github.com/sirupsen/logrus"
)

// WriteResponse writes resp to w. String and []byte bodies are written as
// is; anything else is JSON-encoded. A zero status means 200.
func WriteResponse(w http.ResponseWriter, resp core.Response) error {
	for k, vs := range resp.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	switch b := resp.Body.(type) {
	case nil:
		w.WriteHeader(status)
		return nil
	case string:
		setDefault(w, "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, err := w.Write([]byte(b))
		return err
	case []byte:
		setDefault(w, "application/octet-stream")
		w.WriteHeader(status)
		_, err := w.Write(b)
		return err
	default:
		data, err := json.Marshal(b)
		if err != nil {
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return err
		}
		setDefault(w, "application/json")
		w.WriteHeader(status)
		_, err = w.Write(data)
		return err
	}
}

func setDefault(w http.ResponseWriter, ct string) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", ct)
	}
}

// Handler serves router under basePath.
func Handler(router *core.Router, basePath string, log logrus.FieldLogger) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := Normalize(r, basePath)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, ErrBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			_ = WriteResponse(w, core.Error(status, err.Error()))
			return
		}
		if err := WriteResponse(w, router.Handle(r.Context(), req)); err != nil {
			log.WithError(err).WithField("path", req.Path).Warn("failed to write studio response")
		}
	})
}
