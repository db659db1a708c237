package postman

import (
	"encoding/json"
	"regexp"
)

// Spec is a vendor-hosted API description resource.
type Spec struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Collection is a vendor-hosted set of example requests, optionally kept in
// sync with a Spec.
type Collection struct {
	ID   string `json:"id"`
	UID  string `json:"uid"`
	Name string `json:"name"`
}

// Task describes an asynchronous vendor-side job tracked by URL.
type Task struct {
	Status  string          `json:"status"`
	URL     string          `json:"url"`
	Details json.RawMessage `json:"details,omitempty"`
}

var terminalStatus = regexp.MustCompile(`(?i)^(success|failed|completed)$`)

// Terminal reports whether the task has reached a final status.
func (t Task) Terminal() bool {
	return terminalStatus.MatchString(t.Status)
}
