package lark

import (
	"encoding/json"
	"fmt"

	"github.com/garyjia/booking-approval/internal/application/port"
)

// ActionValue is the payload attached to every card button
type ActionValue struct {
	Action     string `json:"action"`
	WorkflowID string `json:"workflow_id"`
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardButton struct {
	Tag   string      `json:"tag"`
	Text  cardText    `json:"text"`
	Type  string      `json:"type"`
	Value ActionValue `json:"value"`
}

type cardElement struct {
	Tag     string       `json:"tag"`
	Text    *cardText    `json:"text,omitempty"`
	Actions []cardButton `json:"actions,omitempty"`
}

type card struct {
	Config   map[string]bool `json:"config"`
	Elements []cardElement   `json:"elements"`
}

// buildCard renders content as a markdown block followed by an action row
func buildCard(content string, buttons []port.Button) (string, error) {
	c := card{
		Config: map[string]bool{"wide_screen_mode": true, "update_multi": true},
		Elements: []cardElement{
			{Tag: "div", Text: &cardText{Tag: "lark_md", Content: content}},
		},
	}

	if len(buttons) > 0 {
		row := cardElement{Tag: "action"}
		for _, b := range buttons {
			row.Actions = append(row.Actions, cardButton{
				Tag:   "button",
				Text:  cardText{Tag: "plain_text", Content: b.Label},
				Type:  buttonType(b.Style),
				Value: ActionValue{Action: b.Action, WorkflowID: b.WorkflowID},
			})
		}
		c.Elements = append(c.Elements, row)
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal card content: %w", err)
	}
	return string(raw), nil
}

func buttonType(style string) string {
	switch style {
	case "primary", "danger":
		return style
	default:
		return "default"
	}
}
