// Package client talks to the irrigation scheduler's HTTP API. The valve
// controller uses Status; the owner methods back scripts and tests.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/sweeney/irrigation-scheduler/internal/status"
)

// Horario is a schedule entry as the API returns it.
type Horario struct {
	ID         string `json:"id"`
	Hora       string `json:"hora"`
	Duracao    int    `json:"duracao"`
	DiasSemana string `json:"dias_semana"`
	Ativo      bool   `json:"ativo"`
}

// NewHorario is the payload for adding an entry. Zero Duracao and empty
// DiasSemana take the server defaults.
type NewHorario struct {
	Hora       string `json:"hora"`
	Duracao    int    `json:"duracao,omitempty"`
	DiasSemana string `json:"dias_semana,omitempty"`
}

// Client is the scheduler API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client. token may be empty for the public endpoints.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Token returns the bearer token in use.
func (c *Client) Token() string { return c.token }

// Status fetches the device view of the watering state.
func (c *Client) Status(ctx context.Context) (status.DeviceStatus, error) {
	var ds status.DeviceStatus
	if err := c.get(ctx, "/status", &ds); err != nil {
		return status.DeviceStatus{}, fmt.Errorf("client.Status: %w", err)
	}
	return ds, nil
}

// ActiveEntries lists every enabled entry.
func (c *Client) ActiveEntries(ctx context.Context) ([]Horario, error) {
	var hs []Horario
	if err := c.get(ctx, "/api/horarios", &hs); err != nil {
		return nil, fmt.Errorf("client.ActiveEntries: %w", err)
	}
	return hs, nil
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, senha string) error {
	var out struct {
		Token string `json:"token"`
	}
	in := map[string]string{"email": email, "senha": senha}
	if err := c.doRequest(ctx, http.MethodPost, "/login", in, &out); err != nil {
		return fmt.Errorf("client.Login: %w", err)
	}
	c.token = out.Token
	return nil
}

// Entries lists the logged-in owner's entries.
func (c *Client) Entries(ctx context.Context) ([]Horario, error) {
	var hs []Horario
	if err := c.get(ctx, "/horarios", &hs); err != nil {
		return nil, fmt.Errorf("client.Entries: %w", err)
	}
	return hs, nil
}

// AddEntry creates an entry for the logged-in owner.
func (c *Client) AddEntry(ctx context.Context, h NewHorario) (*Horario, error) {
	var out struct {
		Horario Horario `json:"horario"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/adicionar_horario", h, &out); err != nil {
		return nil, fmt.Errorf("client.AddEntry: %w", err)
	}
	return &out.Horario, nil
}

// SetEnabled toggles an entry.
func (c *Client) SetEnabled(ctx context.Context, id string, ativo bool) error {
	in := map[string]bool{"ativo": ativo}
	if err := c.doRequest(ctx, http.MethodPut, "/ativar_horario/"+url.PathEscape(id), in, nil); err != nil {
		return fmt.Errorf("client.SetEnabled: %w", err)
	}
	return nil
}

// DeleteEntry removes an entry.
func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/deletar_horario/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("client.DeleteEntry: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Erro string `json:"erro"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Erro != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Erro}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
