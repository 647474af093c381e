package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/dunamismax/hueshift/internal/domain"
	"github.com/dunamismax/hueshift/internal/pipeline"
)

type recolorRequest struct {
	Image      string            `json:"image"`
	Adjustment domain.Adjustment `json:"adjustment"`
}

type recolorResponse struct {
	Image       string `json:"image"`
	ContentType string `json:"content_type"`
	Animated    bool   `json:"animated"`
	Modified    bool   `json:"modified"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Frames      int    `json:"frames,omitempty"`
	Fallback    string `json:"fallback_reason,omitempty"`
}

// handleRecolor runs one recolor inline. A payload the pipeline cannot
// process is echoed back with modified=false rather than failing the request.
func (s *Server) handleRecolor(w http.ResponseWriter, r *http.Request) {
	if s.recolorer == nil {
		writeError(w, http.StatusServiceUnavailable, "recolor is unavailable")
		return
	}

	var req recolorRequest
	if err := decodeJSON(w, r, &req, s.maxRecolorBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := strings.TrimSpace(req.Image)
	if payload == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	input, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "image must be standard base64")
		return
	}

	out := s.recolorer.Recolor(r.Context(), input, req.Adjustment)
	result := modifiedLabel(out.Modified)
	s.metrics.recolorTotal.WithLabelValues(out.Kind.String(), result).Inc()
	s.metrics.recolorBytes.WithLabelValues(out.Kind.String()).Observe(float64(len(input)))

	resp := recolorResponse{
		Image:       payload,
		ContentType: out.Kind.ContentType(),
		Animated:    out.Kind == pipeline.KindAnimated,
		Modified:    out.Modified,
		Width:       out.Width,
		Height:      out.Height,
		Frames:      out.Frames,
	}
	if out.Modified {
		resp.Image = base64.StdEncoding.EncodeToString(out.Data)
	} else if out.Err != nil {
		resp.Fallback = out.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func modifiedLabel(modified bool) string {
	if modified {
		return "recolored"
	}
	return "original"
}
