package lobby

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"turnforge/internal/storage"
)

// Handler exposes the lobby over HTTP:
//
//	GET    /games                         list game names
//	GET    /games/{name}/matches          list public matches
//	POST   /games/{name}/create           create a match
//	POST   /matches/{id}/join             claim a seat
//	POST   /matches/{id}/leave            release a seat
//	GET    /matches/{id}                  public match entry
func (l *Lobby) Handler(log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /games", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, l.GameNames())
	})

	mux.HandleFunc("GET /games/{name}/matches", func(w http.ResponseWriter, r *http.Request) {
		matches, err := l.ListMatches(r.Context(), r.PathValue("name"), storage.ListFilter{})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	})

	mux.HandleFunc("POST /games/{name}/create", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			NumPlayers int             `json:"numPlayers"`
			SetupData  json.RawMessage `json:"setupData"`
			Unlisted   bool            `json:"unlisted"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		matchID, err := l.CreateMatch(r.Context(), r.PathValue("name"), CreateRequest{
			NumPlayers: body.NumPlayers,
			SetupData:  body.SetupData,
			Unlisted:   body.Unlisted,
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"matchID": matchID})
	})

	mux.HandleFunc("POST /matches/{id}/join", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PlayerID string `json:"playerID"`
			Name     string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		seat, err := strconv.Atoi(body.PlayerID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "playerID must be a seat number"})
			return
		}
		creds, err := l.Join(r.Context(), r.PathValue("id"), seat, body.Name)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"playerCredentials": creds})
	})

	mux.HandleFunc("POST /matches/{id}/leave", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PlayerID    string `json:"playerID"`
			Credentials string `json:"credentials"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		seat, err := strconv.Atoi(body.PlayerID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "playerID must be a seat number"})
			return
		}
		if err := l.Leave(r.Context(), r.PathValue("id"), seat, body.Credentials); err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	mux.HandleFunc("GET /matches/{id}", func(w http.ResponseWriter, r *http.Request) {
		info, err := l.GetMatch(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	return mux
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ErrUnknownGame):
		status = http.StatusNotFound
	case errors.Is(err, ErrSeatTaken), errors.Is(err, ErrInvalidSeat):
		status = http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		log.Error("lobby request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
