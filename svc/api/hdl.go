package api

import (
	"io"
	"net/http"
	"strconv"

	"bitbin/cfg"
	"bitbin/pkg/domain"
	"bitbin/svc/svc"
	"bitbin/svc/util"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
)

const cacheControl = "public, max-age=604800, no-transform, immutable"

type Hdl struct {
	content *svc.Content
	cfg     *cfg.Cfg
}
type CreateResp struct {
	Key string `json:"key"`
}

// Create stores the raw request body. Content-Type and Content-Encoding
// describe the body and are kept with it.
func (h *Hdl) Create(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if r.ContentLength > h.cfg.MaxContentSize {
		log.Warn().Int64("content_length", r.ContentLength).Msg("Content-Length exceeds maximum")
		writeErr(w, domain.ErrContentTooLarge, requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxContentSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn().Int64("limit", tooLarge.Limit).Msg("body exceeds maximum size")
			writeErr(w, domain.ErrContentTooLarge, requestID)
			return
		}
		log.Warn().Err(err).Msg("failed to read request body")
		writeErr(w, domain.ErrContentRequired, requestID)
		return
	}
	info, err := h.content.Create(r.Context(), domain.CreateParams{
		Body:            body,
		ContentType:     r.Header.Get("Content-Type"),
		ContentEncoding: r.Header.Get("Content-Encoding"),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to create content")
		writeErr(w, err, requestID)
		return
	}
	log.Info().
		Str("key", info.Key).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Int("bytes", info.ContentLength).
		Msg("content created")
	w.Header().Set("Location", info.Key)
	writeJSON(w, http.StatusCreated, CreateResp{Key: info.Key})
}

func (h *Hdl) Get(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	key := chi.URLParam(r, "key")
	served, err := h.content.Get(r.Context(), key, r.Header.Get("Accept-Encoding"))
	if err != nil {
		if errors.Is(err, domain.ErrNotAcceptable) || errors.Is(err, domain.ErrContentNotFound) {
			log.Info().Err(err).Str("key", key).Msg("get refused")
		} else {
			log.Error().Err(err).Str("key", key).Msg("get failed")
		}
		w.Header().Set("Vary", "Accept-Encoding")
		writeErr(w, err, requestID)
		return
	}
	hdr := w.Header()
	hdr.Set("Last-Modified", served.Info.LastModified.UTC().Format(http.TimeFormat))
	hdr.Set("Content-Type", served.Info.ContentType)
	hdr.Set("Cache-Control", cacheControl)
	hdr.Set("Content-Encoding", served.ContentEncoding)
	hdr.Set("Vary", "Accept-Encoding")
	hdr.Set("Content-Length", strconv.Itoa(len(served.Body)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(served.Body); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("client went away mid-response")
	}
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.Header().Del("Content-Encoding")
	writeJSON(w, statusCode, map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
