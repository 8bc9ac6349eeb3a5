package radio

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/voxradio/radiod/pkg/catalog"
)

const statusHint = "Ask to play a station by name, stop playback, change station, or set the volume."

type handlers struct {
	logger *slog.Logger
	ctrl   *Controller
}

func newHandlers(ctrl *Controller, logger *slog.Logger) *handlers {
	return &handlers{logger: logger, ctrl: ctrl}
}

func (h *handlers) register(router *mux.Router) {
	sub := router.PathPrefix("/api/v1/radio").Subrouter()
	sub.HandleFunc("/play", h.play).Methods(http.MethodPost)
	sub.HandleFunc("/stop", h.stop).Methods(http.MethodPost)
	sub.HandleFunc("/change", h.change).Methods(http.MethodPost)
	sub.HandleFunc("/volume", h.volume).Methods(http.MethodPost)
	sub.HandleFunc("/status", h.status).Methods(http.MethodGet)
	sub.HandleFunc("/stations", h.stations).Methods(http.MethodGet)
}

type stationRequest struct {
	Station string `json:"station"`
}

type volumeRequest struct {
	Volume *int `json:"volume"`
}

type stationPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type snapshotPayload struct {
	State      string          `json:"state"`
	Station    *stationPayload `json:"station,omitempty"`
	NowPlaying string          `json:"now_playing,omitempty"`
	TrackTitle string          `json:"track_title,omitempty"`
	Volume     int             `json:"volume"`
	PollMode   string          `json:"poll_mode"`
	LastPollAt string          `json:"last_poll_at,omitempty"`
}

type statusPayload struct {
	snapshotPayload
	AvailableStations []stationPayload `json:"available_stations"`
	Hint              string           `json:"hint"`
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *handlers) play(w http.ResponseWriter, r *http.Request) {
	var req stationRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "bad_request", Message: err.Error()})
		return
	}

	snap, err := h.ctrl.Play(r.Context(), req.Station)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPayload(snap))
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	snap := h.ctrl.Stop(r.Context())
	h.writeJSON(w, http.StatusOK, toPayload(snap))
}

func (h *handlers) change(w http.ResponseWriter, r *http.Request) {
	var req stationRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "bad_request", Message: err.Error()})
		return
	}

	snap, err := h.ctrl.ChangeStation(r.Context(), req.Station)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPayload(snap))
}

func (h *handlers) volume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "bad_request", Message: err.Error()})
		return
	}
	if req.Volume == nil {
		h.writeJSON(w, http.StatusBadRequest, errorPayload{Error: "invalid_argument", Message: "volume is required"})
		return
	}

	snap, err := h.ctrl.SetVolume(r.Context(), *req.Volume)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"volume": snap.Volume})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	out := statusPayload{
		snapshotPayload:   toPayload(h.ctrl.Status()),
		AvailableStations: stationList(h.ctrl.Stations()),
		Hint:              statusHint,
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handlers) stations(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, stationList(h.ctrl.Stations()))
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrInvalidVolume):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, ErrBackendUnavailable):
		status, code = http.StatusBadGateway, "backend_unavailable"
	default:
		status, code = http.StatusInternalServerError, "internal"
	}
	h.writeJSON(w, status, errorPayload{Error: code, Message: err.Error()})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("error encoding response", "err", err)
	}
}

// decodeBody reads an optional JSON body. A missing or empty body leaves v
// at its zero value.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

func toPayload(s Snapshot) snapshotPayload {
	p := snapshotPayload{
		State:    s.State.String(),
		Volume:   s.Volume,
		PollMode: s.Mode.String(),
	}
	if !s.LastPollAt.IsZero() {
		p.LastPollAt = s.LastPollAt.UTC().Format(time.RFC3339)
	}
	if s.StationID != "" {
		p.Station = &stationPayload{
			ID:          s.StationID,
			Name:        s.StationName,
			Description: s.Description,
		}
		p.NowPlaying = s.NowPlaying
		p.TrackTitle = s.TrackTitle
	}
	return p
}

func stationList(stations []*catalog.Station) []stationPayload {
	out := make([]stationPayload, 0, len(stations))
	for _, st := range stations {
		out = append(out, stationPayload{
			ID:          st.ID,
			Name:        st.Name,
			Description: st.Description,
		})
	}
	return out
}
