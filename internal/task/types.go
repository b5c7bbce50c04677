// Package task defines the crawl task domain: the task entity, its state
// machine, and the strategies that execute one task type each.
package task

import (
	"fmt"
	"net/url"
	"time"
)

// Type identifies the kind of crawl work a task performs.
type Type string

// Task types, from the root of the fan-out tree to its leaves.
const (
	TypeMeta       Type = "META"
	TypeShopPage   Type = "SHOP_PAGE"
	TypeItemDetail Type = "ITEM_DETAIL"
	TypeItemOption Type = "ITEM_OPTION"
)

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	switch t {
	case TypeMeta, TypeShopPage, TypeItemDetail, TypeItemOption:
		return true
	}
	return false
}

// Status represents the lifecycle state of a task.
type Status string

// Task status values persisted in the task store.
const (
	StatusWaiting   Status = "WAITING"
	StatusPublished Status = "PUBLISHED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRetry     Status = "RETRY"
)

// Trigger records what caused a task to be created.
type Trigger string

// Trigger values.
const (
	TriggerManual Trigger = "MANUAL"
	TriggerAuto   Trigger = "AUTO"
)

// Target is the request target of a task: the URL to fetch plus the
// type-specific parameters. A target is validated when the task is built and
// never mutated afterwards.
type Target struct {
	URL      string `json:"url"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
	ItemNo   int64  `json:"item_no,omitempty"`
}

func (t Target) validate(taskType Type) error {
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("parse target url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target url %q must be http(s)", t.URL)
	}
	switch taskType {
	case TypeMeta:
		if t.PageSize <= 0 {
			return fmt.Errorf("meta target requires page_size > 0")
		}
	case TypeShopPage:
		if t.Page < 0 {
			return fmt.Errorf("shop page target requires page >= 0")
		}
		if t.PageSize <= 0 {
			return fmt.Errorf("shop page target requires page_size > 0")
		}
	case TypeItemDetail, TypeItemOption:
		if t.ItemNo <= 0 {
			return fmt.Errorf("item target requires item_no > 0")
		}
	default:
		return fmt.Errorf("unknown task type %q", taskType)
	}
	return nil
}

// Task is one unit of crawl work.
type Task struct {
	ID                string    `json:"id"`
	ParentSchedulerID string    `json:"parent_scheduler_id"`
	SellerID          int64     `json:"seller_id"`
	Type              Type      `json:"task_type"`
	Target            Target    `json:"target"`
	Status            Status    `json:"status"`
	RetryCount        int       `json:"retry_count"`
	Trigger           Trigger   `json:"trigger_type"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewParams carries everything needed to build a task.
type NewParams struct {
	ID                string
	ParentSchedulerID string
	SellerID          int64
	Type              Type
	Target            Target
	Trigger           Trigger
	Now               time.Time
}

// New builds a WAITING task, validating the target against the task type.
func New(p NewParams) (Task, error) {
	if p.ID == "" {
		return Task{}, fmt.Errorf("task id is required")
	}
	if p.SellerID <= 0 {
		return Task{}, fmt.Errorf("seller id must be > 0")
	}
	if !p.Type.Valid() {
		return Task{}, fmt.Errorf("unknown task type %q", p.Type)
	}
	if p.Trigger != TriggerManual && p.Trigger != TriggerAuto {
		return Task{}, fmt.Errorf("unknown trigger %q", p.Trigger)
	}
	if err := p.Target.validate(p.Type); err != nil {
		return Task{}, fmt.Errorf("invalid target for %s task: %w", p.Type, err)
	}
	return Task{
		ID:                p.ID,
		ParentSchedulerID: p.ParentSchedulerID,
		SellerID:          p.SellerID,
		Type:              p.Type,
		Target:            p.Target,
		Status:            StatusWaiting,
		Trigger:           p.Trigger,
		CreatedAt:         p.Now,
		UpdatedAt:         p.Now,
	}, nil
}

// CanRetry reports whether the task still has retry budget left.
func (t Task) CanRetry(maxRetry int) bool {
	return t.RetryCount < maxRetry
}

// Terminal reports whether the status admits no further transitions except
// recovery.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidTransition reports whether moving from one status to another is legal.
// The only backward edges are the recovery ones: RUNNING->RETRY,
// FAILED->RETRY, and RETRY->WAITING when the task is requeued.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusWaiting:
		return to == StatusPublished || to == StatusRunning
	case StatusPublished:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusRetry
	case StatusFailed:
		return to == StatusRetry
	case StatusRetry:
		return to == StatusWaiting
	case StatusCompleted:
		return false
	}
	return false
}
