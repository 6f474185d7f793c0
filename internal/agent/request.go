package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"trpc.group/trpc-go/trpc-a2a-go/protocol"

	"github.com/tuannvm/ado-ai/internal/models"
)

// ErrNoRequest means no message part carried a usable analysis request.
var ErrNoRequest = errors.New("no analysis request found in message")

var (
	idKeys           = []string{"workItemId", "work_item_id", "id"}
	instructionsKeys = []string{"customInstructions", "custom_instructions", "instructions"}
)

// ParseRequest extracts the analysis request from the first message part
// that carries one. Data parts and JSON text parts are accepted, and a text
// part holding only a number is read as the work item id.
func ParseRequest(msg protocol.Message) (*models.AnalysisRequest, error) {
	if len(msg.Parts) == 0 {
		return nil, fmt.Errorf("%w: message has no parts", ErrNoRequest)
	}
	for _, part := range msg.Parts {
		if req, ok := parsePart(part); ok {
			return req, nil
		}
	}
	return nil, ErrNoRequest
}

func parsePart(part protocol.Part) (*models.AnalysisRequest, bool) {
	switch p := part.(type) {
	case protocol.DataPart:
		return fromData(p.Data)
	case *protocol.DataPart:
		if p == nil {
			return nil, false
		}
		return fromData(p.Data)
	case *protocol.TextPart:
		if p == nil {
			return nil, false
		}
		return fromText(p.Text)
	}

	// Other representations are matched on their wire form.
	w, ok := wireForm(part)
	if !ok {
		return nil, false
	}
	switch w.Type {
	case "text":
		return fromText(w.Text)
	case "data":
		return fromData(w.Data)
	}
	return nil, false
}

type wirePart struct {
	Type string      `json:"type"`
	Text string      `json:"text"`
	Data interface{} `json:"data"`
}

func wireForm(part protocol.Part) (wirePart, bool) {
	var w wirePart
	raw, err := json.Marshal(part)
	if err != nil {
		return w, false
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return w, false
	}
	return w, true
}

// partText returns the text of a text part.
func partText(part protocol.Part) (string, bool) {
	if tp, ok := part.(*protocol.TextPart); ok {
		if tp == nil {
			return "", false
		}
		return tp.Text, true
	}
	w, ok := wireForm(part)
	if !ok || w.Type != "text" {
		return "", false
	}
	return w.Text, true
}

func fromText(text string) (*models.AnalysisRequest, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if id, err := strconv.Atoi(strings.TrimPrefix(text, "#")); err == nil {
		return validRequest(&models.AnalysisRequest{WorkItemID: id})
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, false
	}
	return fromMap(data)
}

func fromData(data interface{}) (*models.AnalysisRequest, bool) {
	switch d := data.(type) {
	case map[string]interface{}:
		return fromMap(d)
	case nil:
		return nil, false
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return fromMap(m)
}

func fromMap(data map[string]interface{}) (*models.AnalysisRequest, bool) {
	id, ok := intValue(data, idKeys...)
	if !ok {
		return nil, false
	}
	req := &models.AnalysisRequest{WorkItemID: id}
	if s, ok := stringValue(data, instructionsKeys...); ok {
		req.CustomInstructions = s
	}
	return validRequest(req)
}

func validRequest(req *models.AnalysisRequest) (*models.AnalysisRequest, bool) {
	if req.WorkItemID <= 0 {
		return nil, false
	}
	return req, true
}

// intValue returns the first key holding a whole number, given either as a
// JSON number or a numeric string.
func intValue(data map[string]interface{}, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := data[key].(type) {
		case float64:
			if v == float64(int(v)) {
				return int(v), true
			}
		case int:
			return v, true
		case json.Number:
			if n, err := strconv.Atoi(v.String()); err == nil {
				return n, true
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// stringValue returns the first non-empty string stored under keys.
func stringValue(data map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := data[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
