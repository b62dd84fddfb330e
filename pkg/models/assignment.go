package models

import "time"

// Assignment is the message handed to an agent over a dispatch channel.
// It is built per attempt and not retained by the coordinator.
type Assignment struct {
	TaskID            string         `json:"task_id"`
	TaskName          string         `json:"task_name"`
	TaskType          string         `json:"task_type,omitempty"`
	Description       string         `json:"description,omitempty"`
	AssignedAgentID   string         `json:"assigned_agent_id"`
	AssignedAgentType AgentType      `json:"assigned_agent_type"`
	RecommendedTools  []string       `json:"recommended_tools,omitempty"`
	Priority          Priority       `json:"priority"`
	Dependencies      []string       `json:"dependencies,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	Attempt           int            `json:"attempt"`
	IssuedAt          time.Time      `json:"issued_at"`
}
