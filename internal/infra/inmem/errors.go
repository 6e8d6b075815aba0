package inmem

import "errors"

var (
	ErrSessionNotFound = errors.New("сессия не найдена")
	ErrSessionIDEmpty  = errors.New("ID сессии не может быть пустым")
	ErrContextDone     = errors.New("отмена контекста")
)
