package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/sweeney/irrigation-scheduler/internal/auth"
	"github.com/sweeney/irrigation-scheduler/internal/calendar"
	"github.com/sweeney/irrigation-scheduler/internal/logic"
	"github.com/sweeney/irrigation-scheduler/internal/status"
	"github.com/sweeney/irrigation-scheduler/internal/store"
)

const maxBody = 1 << 16

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

type okBody struct {
	Sucesso bool `json:"sucesso"`
}

// horarioJSON is the wire form of a schedule entry.
type horarioJSON struct {
	ID         string `json:"id"`
	Hora       string `json:"hora"`
	Duracao    int    `json:"duracao"`
	DiasSemana string `json:"dias_semana"`
	Ativo      bool   `json:"ativo"`
}

func toHorario(e logic.Entry) horarioJSON {
	return horarioJSON{
		ID:         e.ID,
		Hora:       e.Time.String(),
		Duracao:    int(e.Duration / time.Second),
		DiasSemana: e.Weekdays.String(),
		Ativo:      e.Enabled,
	}
}

func toHorarios(entries []logic.Entry) []horarioJSON {
	out := make([]horarioJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toHorario(e))
	}
	return out
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

// handleStatus is polled by the valve controller. It never fails for lack
// of a matching entry.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, status.Device(s.tracker.Snapshot()))
}

func (s *Server) handlePublicEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ActiveEntries(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHorarios(entries))
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ActiveEntries(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="horarios.ics"`)
	w.Write(calendar.Feed(entries, s.loc, s.clock()))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.auth.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Sucesso bool   `json:"sucesso"`
		ID      string `json:"id"`
	}{true, u.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, p, err := s.auth.Login(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    tok,
		Path:     "/",
		Expires:  p.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, struct {
		Sucesso bool   `json:"sucesso"`
		Token   string `json:"token"`
		Nome    string `json:"nome"`
	}{true, tok, p.Name})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := s.auth.Logout(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: auth.CookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	writeJSON(w, http.StatusOK, okBody{Sucesso: true})
}

type nextRunJSON struct {
	ID   string `json:"id"`
	Hora string `json:"hora"`
	Em   string `json:"em"`
}

type dashboardJSON struct {
	Usuario        string       `json:"usuario"`
	HorarioAtual   string       `json:"horario_atual"`
	Status         string       `json:"status"`
	Regando        bool         `json:"regando"`
	Duracao        int          `json:"duracao"`
	TotalHorarios  int          `json:"total_horarios"`
	HorariosAtivos int          `json:"horarios_ativos"`
	ProximoHorario *nextRunJSON `json:"proximo_horario"`
}

const dashboardTime = "02/01/2006 15:04:05"

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	entries, err := s.store.ListByOwner(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap := s.tracker.Snapshot()
	now := s.clock()

	d := dashboardJSON{
		Usuario:       p.Name,
		HorarioAtual:  now.Format(dashboardTime),
		Status:        "Aguardando próximo horário",
		TotalHorarios: len(entries),
	}
	if snap.Watering() {
		d.Regando = true
		d.Status = "Regando agora!"
		d.Duracao = int(snap.Session.Duration / time.Second)
	}
	for _, e := range entries {
		if e.Enabled {
			d.HorariosAtivos++
		}
	}
	if e, at, ok := calendar.NextRun(entries, now); ok {
		d.ProximoHorario = &nextRunJSON{ID: e.ID, Hora: e.Time.String(), Em: at.Format(time.RFC3339)}
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleOwnerEntries(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	entries, err := s.store.ListByOwner(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHorarios(entries))
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var in store.EntryInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := in.ToEntry(p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err = s.store.CreateEntry(r.Context(), e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Sucesso bool        `json:"sucesso"`
		Horario horarioJSON `json:"horario"`
	}{true, toHorario(e)})
}

type enableInput struct {
	Ativo *bool `json:"ativo" validate:"required"`
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var in enableInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := store.ValidateStruct(in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.SetEnabled(r.Context(), p.UserID, chi.URLParam(r, "id"), *in.Ativo); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody{Sucesso: true})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := s.store.DeleteEntry(r.Context(), p.UserID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okBody{Sucesso: true})
}
