package zipcmd

import "errors"

var (
	ErrStart     = errors.New("не удалось запустить архиватор")
	ErrPipe      = errors.New("не удалось подключиться к выводу архиватора")
	ErrExit      = errors.New("архиватор завершился с ошибкой")
	ErrTerminate = errors.New("не удалось остановить архиватор")
)
