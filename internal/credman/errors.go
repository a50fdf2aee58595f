package credman

import "errors"

var (
	// ErrInvalid 는 형식이 잘못된 자격 증명을 추가하려 할 때 반환됩니다.
	ErrInvalid = errors.New("credman: invalid credential")
	// ErrExists 는 같은 (tag, type) 조합이 이미 등록되어 있을 때 반환됩니다.
	ErrExists = errors.New("credman: credential already exists")
	// ErrNoSpace 는 레지스트리 용량이 가득 찼을 때 반환됩니다.
	ErrNoSpace = errors.New("credman: registry is full")
	// ErrNotFound 는 태그에 해당하는 자격 증명이 없을 때 반환됩니다.
	ErrNotFound = errors.New("credman: credential not found")
	// ErrBusy 는 세션이 참조 중인 태그의 자격 증명을 삭제하려 할 때 반환됩니다.
	ErrBusy = errors.New("credman: credential is in use")
	// ErrNotInitialized 는 Init 호출 전에 전역 레지스트리를 사용하려 할 때 반환됩니다.
	ErrNotInitialized = errors.New("credman: registry not initialized")
)
