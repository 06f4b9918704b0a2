// Package service implements the chat core's domain operations.
package service

import (
	"fmt"
	"sync"

	"huddle/internal/models"
)

// KeyedMutex hands out one mutex per key and forgets keys nobody holds.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the function that releases it.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.Unlock()
			k.mu.Lock()
			m.refs--
			if m.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Held returns the number of keys currently locked or waited on.
func (k *KeyedMutex) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func convLockKey(convID uint) string {
	return fmt.Sprintf("conv:%d", convID)
}

func messageLockKey(msgID uint) string {
	return fmt.Sprintf("msg:%d", msgID)
}

func directLockKey(a, b uint) string {
	return "direct:" + models.PairKey(a, b)
}

func contactLockKey(a, b uint) string {
	return "contact:" + models.PairKey(a, b)
}

func groupNameLockKey(name string) string {
	return "group-name:" + name
}
