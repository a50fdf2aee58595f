package credman

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// DefaultCapacity 는 NewRegistry 에 0 이하를 넘겼을 때 사용하는 최대 엔트리 수입니다.
const DefaultCapacity = 8

type key struct {
	tag Tag
	typ Type
}

// Registry 는 (tag, type) 으로 색인되는 자격 증명 저장소입니다.
//
// 세션이 사용하는 태그는 Acquire/Release 로 참조 카운트를 관리하며,
// 참조 중인 태그의 자격 증명은 Delete 할 수 없습니다.
type Registry struct {
	mu    sync.RWMutex
	max   int
	creds map[key]Credential
	refs  map[Tag]int
}

// NewRegistry 는 최대 max 개의 자격 증명을 담는 레지스트리를 생성합니다.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultCapacity
	}
	return &Registry{
		max:   max,
		creds: make(map[key]Credential),
		refs:  make(map[Tag]int),
	}
}

// Add 는 자격 증명을 등록합니다. 키 재료는 복사하지 않습니다.
func (r *Registry) Add(c Credential) error {
	if err := c.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{tag: c.Tag, typ: c.Type()}
	if _, exists := r.creds[k]; exists {
		return fmt.Errorf("%w: tag=%d type=%s", ErrExists, c.Tag, c.Type())
	}
	if len(r.creds) >= r.max {
		return ErrNoSpace
	}
	r.creds[k] = c
	return nil
}

// Get 은 (tag, type) 에 해당하는 자격 증명을 반환합니다.
func (r *Registry) Get(tag Tag, typ Type) (Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.creds[key{tag: tag, typ: typ}]
	if !ok {
		return Credential{}, fmt.Errorf("%w: tag=%d type=%s", ErrNotFound, tag, typ)
	}
	return c, nil
}

// Lookup 은 tag 에 등록된 모든 자격 증명을 종류 순서(PSK, ECDSA, RPK)로 반환합니다.
func (r *Registry) Lookup(tag Tag) ([]Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lookupLocked(tag)
}

func (r *Registry) lookupLocked(tag Tag) ([]Credential, error) {
	var out []Credential
	for k, c := range r.creds {
		if k.tag == tag {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: tag=%d", ErrNotFound, tag)
	}
	slices.SortFunc(out, func(a, b Credential) int {
		return cmp.Compare(a.Type(), b.Type())
	})
	return out, nil
}

// Delete 는 (tag, type) 자격 증명을 제거합니다.
// 해당 태그를 참조하는 세션이 남아 있으면 ErrBusy 를 반환합니다.
func (r *Registry) Delete(tag Tag, typ Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{tag: tag, typ: typ}
	if _, ok := r.creds[k]; !ok {
		return fmt.Errorf("%w: tag=%d type=%s", ErrNotFound, tag, typ)
	}
	if r.refs[tag] > 0 {
		return fmt.Errorf("%w: tag=%d refs=%d", ErrBusy, tag, r.refs[tag])
	}
	delete(r.creds, k)
	return nil
}

// Acquire 는 tag 의 자격 증명을 조회하고 참조 카운트를 하나 올립니다.
// 반환된 자격 증명을 더 이상 쓰지 않으면 반드시 Release 를 호출해야 합니다.
func (r *Registry) Acquire(tag Tag) ([]Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := r.lookupLocked(tag)
	if err != nil {
		return nil, err
	}
	r.refs[tag]++
	return out, nil
}

// Release 는 Acquire 로 올린 참조 카운트를 내립니다.
func (r *Registry) Release(tag Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.refs[tag]; n > 1 {
		r.refs[tag] = n - 1
	} else {
		delete(r.refs, tag)
	}
}

// Refs 는 tag 의 현재 참조 카운트를 반환합니다.
func (r *Registry) Refs(tag Tag) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refs[tag]
}

// Len 은 등록된 자격 증명 수를 반환합니다.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.creds)
}
