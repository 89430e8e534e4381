package store

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

// Defaults applied when a new entry omits them.
const (
	DefaultDuration = 600
	DefaultWeekdays = "Seg,Sex"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("hhmm", validateHHMM)
	validate.RegisterValidation("weekdays", validateWeekdays)
}

func validateHHMM(fl validator.FieldLevel) bool {
	_, err := logic.ParseTimeOfDay(fl.Field().String())
	return err == nil
}

func validateWeekdays(fl validator.FieldLevel) bool {
	_, err := logic.ParseWeekdaySet(fl.Field().String())
	return err == nil
}

// ValidateStruct runs the validator tags on s.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// fieldMessages maps Field.tag to the message shown to the owner.
var fieldMessages = map[string]string{
	"Nome.min":               "Nome deve ter pelo menos 3 caracteres",
	"Senha.min":              "Senha deve ter pelo menos 6 caracteres",
	"ConfirmarSenha.eqfield": "As senhas não coincidem",
	"Email.email":            "Email inválido",
	"Hora.required":          "Horário é obrigatório",
	"Hora.hhmm":              "Horário inválido, use HH:MM",
	"Duracao.gt":             "Duração deve ser maior que zero",
	"Duracao.lte":            "Duração deve ser de no máximo 24 horas",
	"DiasSemana.weekdays":    "Dias da semana inválidos",
}

// ValidationMessage returns the owner-facing message for the first failure
// in err.
func ValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	first := verrs[0]
	if msg, ok := fieldMessages[first.Field()+"."+first.Tag()]; ok {
		return msg
	}
	if first.Tag() == "required" {
		return "Por favor, preencha todos os campos"
	}
	return strings.ToLower(first.Field()) + " inválido"
}

// EntryInput is the owner's request to add a schedule entry.
type EntryInput struct {
	Hora       string `json:"hora" validate:"required,hhmm"`
	Duracao    *int   `json:"duracao" validate:"omitempty,gt=0,lte=86400"`
	DiasSemana string `json:"dias_semana" validate:"omitempty,weekdays"`
}

// ToEntry validates in and builds an enabled entry for ownerID, applying the
// defaults for omitted fields.
func (in EntryInput) ToEntry(ownerID string) (logic.Entry, error) {
	if err := ValidateStruct(in); err != nil {
		return logic.Entry{}, err
	}
	tod, err := logic.ParseTimeOfDay(in.Hora)
	if err != nil {
		return logic.Entry{}, err
	}
	days := in.DiasSemana
	if days == "" {
		days = DefaultWeekdays
	}
	set, err := logic.ParseWeekdaySet(days)
	if err != nil {
		return logic.Entry{}, err
	}
	dur := DefaultDuration
	if in.Duracao != nil {
		dur = *in.Duracao
	}
	return logic.Entry{
		OwnerID:  ownerID,
		Time:     tod,
		Duration: time.Duration(dur) * time.Second,
		Weekdays: set,
		Enabled:  true,
	}, nil
}

// IsValidationError reports whether err came from the validator.
func IsValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
