package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lingsync/internal/model"
)

// DefaultConnectURL is where a local AnkiConnect add-on listens.
const DefaultConnectURL = "http://127.0.0.1:8765"

const connectVersion = 6

// ConnectClient implements Collection and FieldSchemaProvider against
// the AnkiConnect HTTP API.
type ConnectClient struct {
	url        string
	httpClient *http.Client
}

// ConnectOption configures a ConnectClient.
type ConnectOption func(*ConnectClient)

// WithConnectURL overrides the AnkiConnect endpoint.
func WithConnectURL(u string) ConnectOption {
	return func(c *ConnectClient) { c.url = u }
}

// WithConnectHTTPClient substitutes the underlying HTTP client.
func WithConnectHTTPClient(hc *http.Client) ConnectOption {
	return func(c *ConnectClient) { c.httpClient = hc }
}

// NewConnectClient creates a client for a local AnkiConnect endpoint.
func NewConnectClient(opts ...ConnectOption) *ConnectClient {
	c := &ConnectClient{
		url:        DefaultConnectURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type connectRequest struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type connectResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

func (c *ConnectClient) invoke(ctx context.Context, action string, params, out any) error {
	payload, err := json.Marshal(connectRequest{Action: action, Version: connectVersion, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ankiconnect %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ankiconnect %s: read response: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ankiconnect %s: HTTP %d", action, resp.StatusCode)
	}

	var envelope connectResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("ankiconnect %s: decode response: %w", action, err)
	}
	if envelope.Error != nil && *envelope.Error != "" {
		return fmt.Errorf("ankiconnect %s: %s", action, *envelope.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("ankiconnect %s: decode result: %w", action, err)
	}
	return nil
}

type noteInfo struct {
	NoteID int64 `json:"noteId"`
	Fields map[string]struct {
		Value string `json:"value"`
		Order int    `json:"order"`
	} `json:"fields"`
}

func (c *ConnectClient) NoteFields(ctx context.Context, noteID int64) (map[string]string, error) {
	var infos []noteInfo
	params := map[string]any{"notes": []int64{noteID}}
	if err := c.invoke(ctx, "notesInfo", params, &infos); err != nil {
		return nil, err
	}
	if len(infos) == 0 || infos[0].NoteID == 0 {
		return nil, fmt.Errorf("note %d not found", noteID)
	}
	fields := make(map[string]string, len(infos[0].Fields))
	for name, f := range infos[0].Fields {
		fields[name] = f.Value
	}
	return fields, nil
}

func (c *ConnectClient) UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error {
	params := map[string]any{
		"note": map[string]any{"id": noteID, "fields": fields},
	}
	return c.invoke(ctx, "updateNoteFields", params, nil)
}

func (c *ConnectClient) AddNote(ctx context.Context, deck, noteType string, fields map[string]string, tags []string) (int64, error) {
	if tags == nil {
		tags = []string{}
	}
	params := map[string]any{
		"note": map[string]any{
			"deckName":  deck,
			"modelName": noteType,
			"fields":    fields,
			"tags":      tags,
		},
	}
	var id int64
	if err := c.invoke(ctx, "addNote", params, &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *ConnectClient) FindNotes(ctx context.Context, query string) ([]int64, error) {
	var ids []int64
	if err := c.invoke(ctx, "findNotes", map[string]any{"query": query}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

type cardInfo struct {
	CardID   int64 `json:"cardId"`
	Reps     int   `json:"reps"`
	Interval int   `json:"interval"`
	Queue    int   `json:"queue"`
	Ord      int   `json:"ord"`
}

func (c *ConnectClient) NoteCards(ctx context.Context, noteID int64) ([]model.CardRecord, error) {
	var cardIDs []int64
	query := fmt.Sprintf("nid:%d", noteID)
	if err := c.invoke(ctx, "findCards", map[string]any{"query": query}, &cardIDs); err != nil {
		return nil, err
	}
	if len(cardIDs) == 0 {
		return nil, nil
	}

	var infos []cardInfo
	if err := c.invoke(ctx, "cardsInfo", map[string]any{"cards": cardIDs}, &infos); err != nil {
		return nil, err
	}

	records := make([]model.CardRecord, 0, len(infos))
	for _, ci := range infos {
		records = append(records, model.CardRecord{
			CardID:   ci.CardID,
			Reps:     ci.Reps,
			Interval: ci.Interval,
			Queue:    ci.Queue,
			Ordinal:  ci.Ord,
		})
	}
	return records, nil
}

func (c *ConnectClient) ForgetCards(ctx context.Context, cardIDs []int64) error {
	return c.invoke(ctx, "forgetCards", map[string]any{"cards": cardIDs}, nil)
}

func (c *ConnectClient) SetDueDate(ctx context.Context, cardIDs []int64, days string) error {
	params := map[string]any{"cards": cardIDs, "days": days}
	return c.invoke(ctx, "setDueDate", params, nil)
}

func (c *ConnectClient) FieldNames(ctx context.Context, noteType string) ([]string, error) {
	var names []string
	params := map[string]any{"modelName": noteType}
	if err := c.invoke(ctx, "modelFieldNames", params, &names); err != nil {
		return nil, err
	}
	return names, nil
}
