package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден
	ErrNotFound        = errors.New("requested resource not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMatchNotFound   = errors.New("match not found")
	ErrProblemNotFound = errors.New("no problem available for requested difficulty")

	// Валидация и бизнес-правила
	ErrValidationFailed     = errors.New("validation failed")
	ErrInvalidSettings      = errors.New("room settings out of allowed range")
	ErrInvalidState         = errors.New("operation not allowed in current room state")
	ErrRoomFull             = errors.New("room is full")
	ErrDuplicateParticipant = errors.New("user is already a participant of this room")
	ErrAlreadyInRoom        = errors.New("user is already in another room")
	ErrBattleInProgress     = errors.New("battle is already in progress")
	ErrBattleExpired        = errors.New("battle time limit has been reached")
	ErrNotParticipant       = errors.New("user is not a participant of this room")
	ErrWrongPassword        = errors.New("invalid room password")

	// Аутентификация и доступ
	ErrUnauthorized     = errors.New("operation not allowed for the current user")
	ErrHostOnly         = errors.New("only the room host can perform this action")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email is already taken")
	ErrNicknameTaken      = errors.New("nickname is already taken")

	// Внешний оракул исполнения кода
	ErrOracle = errors.New("scoring oracle failed to evaluate submission")
)
