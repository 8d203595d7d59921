package planfile

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type jsonPlan struct {
	Tasks []jsonTask `json:"tasks"`
}

type jsonTask struct {
	ID        string   `json:"id"`
	Command   string   `json:"command"`
	Domain    string   `json:"domain"`
	TierHint  string   `json:"tier_hint"`
	DependsOn []string `json:"depends_on"`
}

func parseJSON(filename string, src []byte) ([]Task, error) {
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.DisallowUnknownFields()

	var doc jsonPlan
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("plan %s: %w", filename, err)
	}

	tasks := make([]Task, len(doc.Tasks))
	for i, t := range doc.Tasks {
		tasks[i] = Task{
			ID:        t.ID,
			Command:   t.Command,
			Domain:    t.Domain,
			TierHint:  t.TierHint,
			DependsOn: t.DependsOn,
		}
	}
	return tasks, nil
}
