package credman

import "sync"

// 프로세스 전역 레지스트리. Init 을 한 번 호출해야 사용할 수 있으며,
// 자동으로 정리(teardown)되지 않습니다.
var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Init 은 전역 레지스트리를 생성합니다. 여러 번 호출해도 안전합니다.
func Init() {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(DefaultCapacity)
	})
}

// Default 는 전역 레지스트리를 반환합니다. Init 전에는 nil 입니다.
func Default() *Registry {
	return defaultRegistry
}

// Add 는 전역 레지스트리에 자격 증명을 추가합니다.
func Add(c Credential) error {
	if defaultRegistry == nil {
		return ErrNotInitialized
	}
	return defaultRegistry.Add(c)
}

// Lookup 은 전역 레지스트리에서 tag 의 자격 증명을 조회합니다.
func Lookup(tag Tag) ([]Credential, error) {
	if defaultRegistry == nil {
		return nil, ErrNotInitialized
	}
	return defaultRegistry.Lookup(tag)
}

// Delete 는 전역 레지스트리에서 자격 증명을 제거합니다.
func Delete(tag Tag, typ Type) error {
	if defaultRegistry == nil {
		return ErrNotInitialized
	}
	return defaultRegistry.Delete(tag, typ)
}
