package models

import (
	"fmt"
	"time"
)

var allowedTransitions = map[CampaignStatus]map[CampaignStatus]bool{
	CampaignStatusPending: {
		CampaignStatusRunning: true,
		CampaignStatusFailed:  true, // cancelled while queued
	},
	CampaignStatusRunning: {
		CampaignStatusCompleted: true,
		CampaignStatusFailed:    true,
	},
	CampaignStatusCompleted: {},
	CampaignStatusFailed:    {},
}

// IsKnownStatus reports whether status is part of the campaign lifecycle.
func IsKnownStatus(status CampaignStatus) bool {
	_, ok := allowedTransitions[status]
	return ok
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionCampaign moves c to status "to" and maintains the timestamp invariants:
// StartedAt is set on entering running, CompletedAt on entering a terminal state.
func TransitionCampaign(c *Campaign, to CampaignStatus, now time.Time) error {
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("invalid campaign status transition: %q -> %q (campaign_id=%s)", c.Status, to, c.ID)
	}
	c.Status = to
	switch {
	case to == CampaignStatusRunning:
		t := now.UTC()
		c.StartedAt = &t
	case to.IsTerminal():
		t := now.UTC()
		c.CompletedAt = &t
	}
	return nil
}

// Fail records a stage failure and moves c to failed.
func Fail(c *Campaign, stage StageName, reason string, now time.Time) error {
	c.ErrorSummary = append(c.ErrorSummary, StageError{Stage: stage, Reason: reason})
	return TransitionCampaign(c, CampaignStatusFailed, now)
}
