// Package services implements the terminal-facing business logic: the device
// registry and capability detector, upload ingest, the command queue, template
// synchronization and the attendance summarizer.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into HTTP status codes is performed at the handler layer.
// Terminal endpoints never surface these errors; the operator API does.
package services

import "errors"

var (
	// ErrDeviceNotFound indicates that no terminal with the given serial is
	// registered.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrMissingSerial is returned when a device-scoped call carries no serial.
	ErrMissingSerial = errors.New("serial number is required")

	// ErrCommandNotFound indicates that the requested command does not exist.
	ErrCommandNotFound = errors.New("command not found")

	// ErrEmptyCommand is returned when an enqueue request has no payload.
	ErrEmptyCommand = errors.New("command is empty")

	// ErrNoWork is the explicit "nothing to send" signal of Dequeue.
	ErrNoWork = errors.New("no pending command")

	// ErrInvalidTransition is returned when a command is not in a state that
	// accepts the requested transition (e.g. a result for a finished command).
	ErrInvalidTransition = errors.New("invalid command state transition")

	// ErrWrongDevice is returned when a terminal reports a result for a
	// command queued for another device.
	ErrWrongDevice = errors.New("command belongs to another device")

	// ErrNotDeadLetter is returned when a manual requeue targets a command
	// that is not dead-lettered.
	ErrNotDeadLetter = errors.New("command is not dead-lettered")

	// ErrSummaryNotFound indicates that no summary exists for the employee/day.
	ErrSummaryNotFound = errors.New("summary not found")

	// ErrInvalidDate is returned when a day is not formatted as YYYY-MM-DD.
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

	// ErrMissingEmployee is returned when an employee code is required but empty.
	ErrMissingEmployee = errors.New("employee code is required")
)
