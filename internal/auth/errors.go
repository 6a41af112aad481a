package auth

import "errors"

var (
	// ErrInvalidCredentials means the API rejected the username/password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrConnection means the API could not be reached.
	ErrConnection = errors.New("connection error")
	// ErrUnauthorized means the API still refused the token after a refresh.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoToken means there is no access token to present.
	ErrNoToken = errors.New("no access token")
	// ErrProfile means the profile endpoint failed for a reason other than auth.
	ErrProfile = errors.New("profile request failed")
)

// Operator-facing messages.
const (
	msgInvalidCredentials = "Неверное имя пользователя или пароль"
	msgConnection         = "Ошибка подключения к серверу"
	msgProfile            = "Не удалось получить данные пользователя"
)
