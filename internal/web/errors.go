package web

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/auth"
	"github.com/sweeney/irrigation-scheduler/internal/store"
)

var errBadBody = errors.New("web: malformed request body")

// Owner-facing messages.
const (
	msgBadBody       = "Requisição inválida"
	msgInvite        = "Código de convite inválido"
	msgEmailTaken    = "Este email já está cadastrado"
	msgBadLogin      = "Email ou senha incorretos"
	msgUnauthorized  = "Faça login para continuar"
	msgForbidden     = "Não autorizado"
	msgEntryNotFound = "Horário não encontrado"
	msgInternal      = "Erro interno, tente novamente"
)

type errorBody struct {
	Sucesso bool   `json:"sucesso"`
	Erro    string `json:"erro"`
}

// errorStatus maps an error to its HTTP status and owner-facing message.
func errorStatus(err error) (int, string) {
	var ie *auth.InputError
	switch {
	case errors.As(err, &ie):
		return http.StatusBadRequest, ie.Message
	case store.IsValidationError(err):
		return http.StatusBadRequest, store.ValidationMessage(err)
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest, msgBadBody
	case errors.Is(err, auth.ErrInvalidInvite):
		return http.StatusBadRequest, msgInvite
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusBadRequest, msgEmailTaken
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgBadLogin
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrRevoked):
		return http.StatusUnauthorized, msgUnauthorized
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden, msgForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, msgEntryNotFound
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := errorStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, errorBody{Sucesso: false, Erro: msg})
}

func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, err)
}
