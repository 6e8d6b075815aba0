package archive_service

import "errors"

var (
	ErrContextDone = errors.New("отмена контекста")

	ErrServerBusy      = errors.New("сервер занят, достигнуто максимальное количество активных загрузок")
	ErrSessionNotFound = errors.New("загрузка не найдена")

	ErrArchiveNotFound = errors.New("архив не найден")
	ErrInvalidToken    = errors.New("некорректный идентификатор архива")

	ErrProcessSpawn     = errors.New("не удалось запустить архиватор")
	ErrStreamAborted    = errors.New("загрузка прервана")
	ErrStreamRead       = errors.New("не удалось прочитать вывод архиватора")
	ErrSubprocessFailed = errors.New("архиватор завершился с ошибкой")
	ErrCleanup          = errors.New("не удалось завершить архиватор")
)
