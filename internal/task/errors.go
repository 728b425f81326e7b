package task

import "errors"

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskTerminal = errors.New("task already reached a terminal status")
)
