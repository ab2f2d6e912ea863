// Package fsm holds the transition table of a generation request.
package fsm

import (
	"errors"
	"fmt"

	"github.com/digkill/PhotoshootBot/internal/models"
)

type Event string

const (
	EventSelectPhotoshoot   Event = "select_photoshoot"
	EventSelectModeling     Event = "select_modeling"
	EventChooseGender       Event = "choose_gender"
	EventChooseTemplateMode Event = "choose_template_mode"
	EventChooseFreeTextMode Event = "choose_free_text_mode"
	EventChooseTemplate     Event = "choose_template"
	EventSubmitText         Event = "submit_text"
	EventEdit               Event = "edit"
	EventCancel             Event = "cancel"
	EventQueue              Event = "queue"
	EventQueueLimit         Event = "queue_limit"
	EventReject             Event = "reject"
	EventDispatch           Event = "dispatch"
	EventSucceed            Event = "succeed"
	EventFail               Event = "fail"
)

var ErrInvalidTransition = errors.New("invalid transition")

type TransitionError struct {
	From  models.Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s on %s", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Branch carries the record fields some transitions depend on.
type Branch struct {
	Service models.Service
	Mode    models.Mode
}

// Next returns the status reached from `from` on `ev`.
func Next(from models.Status, ev Event, b Branch) (models.Status, error) {
	invalid := &TransitionError{From: from, Event: ev}
	// A draft can be abandoned from any step before it is queued.
	if ev == EventCancel && Open(from) {
		return models.StatusCancelled, nil
	}
	switch from {
	case models.StatusInit:
		switch ev {
		case EventSelectPhotoshoot:
			return models.StatusAwaitingModeSelection, nil
		case EventSelectModeling:
			return models.StatusAwaitingModelGender, nil
		}
	case models.StatusAwaitingModelGender:
		if ev == EventChooseGender {
			return models.StatusAwaitingTemplateSelection, nil
		}
	case models.StatusAwaitingModeSelection:
		switch ev {
		case EventChooseTemplateMode:
			return models.StatusAwaitingTemplateSelection, nil
		case EventChooseFreeTextMode:
			return models.StatusAwaitingDescription, nil
		}
	case models.StatusAwaitingTemplateSelection:
		if ev == EventChooseTemplate {
			if b.Service == models.ServiceModeling {
				return models.StatusAwaitingConfirmation, nil
			}
			return models.StatusAwaitingProductName, nil
		}
	case models.StatusAwaitingDescription, models.StatusAwaitingProductName:
		if ev == EventSubmitText {
			return models.StatusAwaitingConfirmation, nil
		}
	case models.StatusAwaitingConfirmation:
		switch ev {
		case EventEdit:
			return editTarget(b), nil
		case EventQueueLimit:
			return models.StatusCancelled, nil
		case EventQueue:
			return models.StatusInQueue, nil
		case EventReject, EventFail:
			return models.StatusError, nil
		}
	case models.StatusInQueue:
		switch ev {
		case EventCancel:
			return models.StatusCancelled, nil
		case EventDispatch:
			return models.StatusProcessing, nil
		case EventFail:
			return models.StatusError, nil
		}
	case models.StatusProcessing:
		switch ev {
		case EventSucceed:
			return models.StatusDone, nil
		case EventFail:
			return models.StatusError, nil
		}
	}
	return from, invalid
}

func editTarget(b Branch) models.Status {
	switch {
	case b.Service == models.ServiceModeling:
		return models.StatusAwaitingTemplateSelection
	case b.Mode == models.ModeTemplate:
		return models.StatusAwaitingProductName
	default:
		return models.StatusAwaitingDescription
	}
}

// AcceptsText reports whether free text advances a record in this status.
func AcceptsText(s models.Status) bool {
	return s == models.StatusAwaitingDescription || s == models.StatusAwaitingProductName
}

// Open reports whether the record is still being composed by the user.
func Open(s models.Status) bool {
	switch s {
	case models.StatusInit,
		models.StatusAwaitingModeSelection,
		models.StatusAwaitingModelGender,
		models.StatusAwaitingTemplateSelection,
		models.StatusAwaitingDescription,
		models.StatusAwaitingProductName,
		models.StatusAwaitingConfirmation:
		return true
	}
	return false
}
