package ado

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ServiceHookPayload is the body Azure DevOps posts for work item service
// hook subscriptions (workitem.created, workitem.updated, workitem.commented).
type ServiceHookPayload struct {
	ID          string              `json:"id"`
	EventType   string              `json:"eventType"`
	PublisherID string              `json:"publisherId"`
	Resource    ServiceHookResource `json:"resource"`
	CreatedDate string              `json:"createdDate"`
}

// ServiceHookResource is the resource section of a work item event.
// For workitem.updated, ID is the update id and WorkItemID the work item;
// for other events ID is the work item id.
type ServiceHookResource struct {
	ID         int                    `json:"id"`
	WorkItemID int                    `json:"workItemId"`
	Rev        int                    `json:"rev"`
	RevisedBy  interface{}            `json:"revisedBy"`
	Fields     map[string]interface{} `json:"fields"`
	URL        string                 `json:"url"`
}

// HookEvent is the internal form of a service hook notification
type HookEvent struct {
	WorkItemID int               `json:"workItemId"`
	Event      string            `json:"event"` // "created", "updated", "commented", "deleted", ...
	RevisedBy  string            `json:"revisedBy,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Changes    map[string]string `json:"changes,omitempty"` // field -> new value
}

// ParseServiceHook converts a service hook body to a HookEvent.
func ParseServiceHook(payload []byte) (*HookEvent, error) {
	var hook ServiceHookPayload
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("failed to decode service hook payload: %w", err)
	}
	if !strings.HasPrefix(hook.EventType, "workitem.") {
		return nil, fmt.Errorf("unsupported service hook event type: %q", hook.EventType)
	}

	ev := &HookEvent{
		Event:     strings.TrimPrefix(hook.EventType, "workitem."),
		Timestamp: hook.CreatedDate,
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	ev.WorkItemID = hook.Resource.WorkItemID
	if ev.WorkItemID == 0 {
		ev.WorkItemID = hook.Resource.ID
	}
	if ev.WorkItemID <= 0 {
		return nil, fmt.Errorf("service hook payload has no work item id")
	}
	if name := IdentityName(hook.Resource.RevisedBy); name != nil {
		ev.RevisedBy = *name
	}

	// updated events carry {"oldValue","newValue"} pairs; others carry values
	if len(hook.Resource.Fields) > 0 {
		ev.Changes = make(map[string]string, len(hook.Resource.Fields))
		for field, value := range hook.Resource.Fields {
			if pair, ok := value.(map[string]interface{}); ok {
				if nv, ok := pair["newValue"]; ok {
					value = nv
				}
			}
			ev.Changes[field] = stringify(value)
		}
	}
	return ev, nil
}

// ChangedFields returns the changed field names in sorted order.
func (e *HookEvent) ChangedFields() []string {
	names := make([]string, 0, len(e.Changes))
	for k := range e.Changes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64, int, bool:
		return fmt.Sprintf("%v", x)
	case map[string]interface{}:
		if name := IdentityName(x); name != nil {
			return *name
		}
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
