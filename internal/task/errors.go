package task

import "errors"

// 注册表错误
var (
	ErrEmptyTaskName         = errors.New("task: empty name")
	ErrTaskAlreadyRegistered = errors.New("task: name already registered")
	ErrTaskNotFound          = errors.New("task: not registered")
)
