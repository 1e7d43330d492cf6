package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/satriahrh/bridgetalk/server/domain/repositories"
)

type audioObject struct {
	data        []byte
	contentType string
}

// AudioStore keeps audio objects in process memory
type AudioStore struct {
	mu      sync.RWMutex
	objects map[string]audioObject
}

var _ repositories.AudioStore = (*AudioStore)(nil)

func NewAudioStore() *AudioStore {
	return &AudioStore{objects: make(map[string]audioObject)}
}

func (s *AudioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = audioObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (s *AudioStore) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", repositories.ErrAudioNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.contentType, nil
}

func (s *AudioStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored objects
func (s *AudioStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
